// Package sqlsource implements storage.Source on database/sql.
//
// The operational schema is the same whatever engine hosts it; only bind
// placeholders, paging syntax and date arguments differ. Backend packages
// (mysql, mssql, postgres, sqlite) supply a Dialect and register a factory.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salesdw/internal/model"
	"salesdw/internal/storage"
)

// Dialect captures the SQL differences between operational engines.
type Dialect struct {
	Name string

	// Bind returns the placeholder for the n-th (1-based) argument.
	Bind func(n int) string

	// Page returns the paging clause appended after ORDER BY, given the
	// placeholders for limit and offset.
	Page func(limit, offset string) string

	// DateArg converts a calendar day into the driver argument compared
	// against sale timestamps.
	DateArg func(day time.Time) any
}

var (
	// Question is used by MySQL and SQLite.
	Question = Dialect{
		Name:    "question",
		Bind:    func(int) string { return "?" },
		Page:    func(limit, offset string) string { return "LIMIT " + limit + " OFFSET " + offset },
		DateArg: func(day time.Time) any { return day.Format(model.DateLayout) },
	}

	// Dollar is used by Postgres.
	Dollar = Dialect{
		Name:    "dollar",
		Bind:    func(n int) string { return fmt.Sprintf("$%d", n) },
		Page:    func(limit, offset string) string { return "LIMIT " + limit + " OFFSET " + offset },
		DateArg: func(day time.Time) any { return day },
	}

	// AtP is used by SQL Server, which pages with OFFSET/FETCH.
	AtP = Dialect{
		Name: "atp",
		Bind: func(n int) string { return fmt.Sprintf("@p%d", n) },
		Page: func(limit, offset string) string {
			return "OFFSET " + offset + " ROWS FETCH NEXT " + limit + " ROWS ONLY"
		},
		DateArg: func(day time.Time) any { return day },
	}
)

// Source is a storage.Source backed by a *sql.DB.
type Source struct {
	db *sql.DB
	d  Dialect
}

// Open opens driverName with dsn, verifies connectivity and wraps it.
func Open(ctx context.Context, driverName, dsn string, d Dialect) (*Source, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// One sequential worker per run; a couple of connections is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s source ping: %w", driverName, err)
	}
	return New(db, d), nil
}

// New wraps an existing *sql.DB. The Source takes ownership: Close closes db.
func New(db *sql.DB, d Dialect) *Source {
	return &Source{db: db, d: d}
}

func (s *Source) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Source) Close() { _ = s.db.Close() }

const productsSQL = `SELECT p.codigo_producto, p.nombre_producto, p.precio_venta, p.costo, p.stock,
       tp.nombre_tipo_producto, um.nombre_unidad_medida
FROM producto p
INNER JOIN tipo_producto tp ON p.id_tipo_producto = tp.id
INNER JOIN unidad_medida um ON p.id_unidad_medida = um.id
ORDER BY p.codigo_producto`

func (s *Source) Products(ctx context.Context) ([]model.RawProduct, error) {
	rows, err := s.db.QueryContext(ctx, productsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawProduct
	for rows.Next() {
		var p model.RawProduct
		if err := rows.Scan(&p.Code, &p.Name, &p.Price, &p.Cost, &p.Stock, &p.Type, &p.Unit); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// The first phone is picked with MIN so the choice is stable across engines.
const clientsSQL = `SELECT c.id, c.nombre_cliente, c.direccion_cliente, c.genero_cliente,
       c.numero_documento, c.fecha_nacimiento, c.email,
       td.nombre_tipo_documento, m.nombre_municipio,
       (SELECT MIN(t.numero_telefono) FROM telefono t WHERE t.id_cliente = c.id) AS telefono_principal
FROM cliente c
INNER JOIN tipo_documento td ON c.id_tipo_documento = td.id
INNER JOIN municipio m ON c.id_municipio = m.id
ORDER BY c.id`

func (s *Source) Clients(ctx context.Context) ([]model.RawClient, error) {
	rows, err := s.db.QueryContext(ctx, clientsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawClient
	for rows.Next() {
		var c model.RawClient
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Address, &c.Gender,
			&c.DocNumber, &c.BirthDate, &c.Email,
			&c.DocType, &c.Municipality, &c.Phone,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const locationsSQL = `SELECT id, nombre_municipio FROM municipio ORDER BY id`

func (s *Source) Locations(ctx context.Context) ([]model.RawLocation, error) {
	rows, err := s.db.QueryContext(ctx, locationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawLocation
	for rows.Next() {
		var l model.RawLocation
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const paymentMethodsSQL = `SELECT id, nombre_medio_pago FROM medio_pago ORDER BY id`

func (s *Source) PaymentMethods(ctx context.Context) ([]model.RawPaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, paymentMethodsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawPaymentMethod
	for rows.Next() {
		var m model.RawPaymentMethod
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// salesSelect is shared by paged and date-ranged extraction. Discount is the
// shortfall of the line subtotal against price*quantity; the payment method
// is the sale's lowest payment id.
const salesSelect = `SELECT v.numero_venta, v.fecha_venta, v.tipo_venta, v.id_cliente,
       dv.codigo_producto, dv.item, dv.precio_unitario, dv.subtotal,
       p.costo,
       CASE WHEN dv.subtotal < dv.precio_unitario * dv.item
            THEN dv.precio_unitario * dv.item - dv.subtotal
            ELSE 0 END AS descuento,
       c.id_municipio,
       (SELECT MIN(pm.id_medio_pago) FROM pago pm WHERE pm.numero_venta = v.numero_venta) AS id_medio_pago
FROM venta v
INNER JOIN detalle_venta dv ON v.numero_venta = dv.numero_venta
INNER JOIN producto p ON dv.codigo_producto = p.codigo_producto
INNER JOIN cliente c ON v.id_cliente = c.id`

const salesOrder = `ORDER BY v.fecha_venta DESC, v.numero_venta, dv.codigo_producto`

// buildSalesPageSQL returns the paged sales query for a dialect.
func buildSalesPageSQL(d Dialect) string {
	return salesSelect + "\n" + salesOrder + "\n" + d.Page(d.Bind(1), d.Bind(2))
}

// buildSalesBetweenSQL returns the date-ranged sales query. The interval is
// expressed half-open on the next day so no engine-specific DATE() is needed.
func buildSalesBetweenSQL(d Dialect) string {
	var b strings.Builder
	b.WriteString(salesSelect)
	b.WriteString("\nWHERE v.fecha_venta >= ")
	b.WriteString(d.Bind(1))
	b.WriteString(" AND v.fecha_venta < ")
	b.WriteString(d.Bind(2))
	b.WriteString("\n")
	b.WriteString(salesOrder)
	return b.String()
}

func (s *Source) SalesPage(ctx context.Context, limit, offset int) ([]model.RawSale, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("sales page: limit must be > 0 (got %d)", limit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("sales page: offset must be >= 0 (got %d)", offset)
	}
	return s.querySales(ctx, buildSalesPageSQL(s.d), limit, offset)
}

func (s *Source) SalesBetween(ctx context.Context, start, end time.Time) ([]model.RawSale, error) {
	from := truncateDay(start)
	until := truncateDay(end).AddDate(0, 0, 1)
	return s.querySales(ctx, buildSalesBetweenSQL(s.d), s.d.DateArg(from), s.d.DateArg(until))
}

func (s *Source) querySales(ctx context.Context, q string, args ...any) ([]model.RawSale, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawSale
	for rows.Next() {
		var r model.RawSale
		if err := rows.Scan(
			&r.SaleNumber, &r.SaleDate, &r.SaleType, &r.ClientID,
			&r.ProductCode, &r.Quantity, &r.UnitPrice, &r.Subtotal,
			&r.UnitCost, &r.Discount, &r.LocationID, &r.PaymentMethodID,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// countSalesSQL counts over the same joins as the extraction queries so the
// count sizes the paging loop exactly.
const countSalesSQL = `SELECT COUNT(*)
FROM venta v
INNER JOIN detalle_venta dv ON v.numero_venta = dv.numero_venta
INNER JOIN producto p ON dv.codigo_producto = p.codigo_producto
INNER JOIN cliente c ON v.id_cliente = c.id`

func (s *Source) CountSales(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, countSalesSQL).Scan(&n)
	return n, err
}

func (s *Source) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM producto`).Scan(&n)
	return n, err
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var _ storage.Source = (*Source)(nil)
