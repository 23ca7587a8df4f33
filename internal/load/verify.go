package load

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/storage"
	"salesdw/internal/transform"
)

// SalesSummary describes the whole fact table.
type SalesSummary struct {
	Sales     int64     `json:"sales"`
	Lines     int64     `json:"lines"`
	Revenue   float64   `json:"revenue"`
	Profit    float64   `json:"profit"`
	AvgMargin float64   `json:"avg_margin"`
	FirstSale time.Time `json:"first_sale,omitzero"`
	LastSale  time.Time `json:"last_sale,omitzero"`
}

// Ranked is one row of a top-N listing ordered by revenue.
type Ranked struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Detail   string  `json:"detail,omitempty"`
	Quantity int64   `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

func (l *Loader) query(ctx context.Context, q string) ([][]any, error) {
	opCtx, cancel := l.opContext(ctx)
	defer cancel()
	return l.Warehouse.QueryRows(opCtx, q)
}

// RowCount returns COUNT(*) of table.
func (l *Loader) RowCount(ctx context.Context, table string) (int64, error) {
	rows, err := l.query(ctx, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return storage.AsInt64(rows[0][0]), nil
}

// TableCounts returns the row count of every warehouse table.
func (l *Loader) TableCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(AllTables))
	for _, t := range AllTables {
		n, err := l.RowCount(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

func (l *Loader) SalesSummary(ctx context.Context) (SalesSummary, error) {
	rows, err := l.query(ctx, `SELECT COUNT(DISTINCT numero_venta_original), COUNT(*),
  COALESCE(SUM(total_linea), 0), COALESCE(SUM(utilidad_linea), 0), COALESCE(AVG(margen_linea), 0),
  MIN(fecha_venta_original), MAX(fecha_venta_original)
FROM fact_ventas`)
	if err != nil {
		return SalesSummary{}, fmt.Errorf("sales summary: %w", err)
	}
	var s SalesSummary
	if len(rows) == 0 {
		return s, nil
	}
	r := rows[0]
	s.Sales = storage.AsInt64(r[0])
	s.Lines = storage.AsInt64(r[1])
	s.Revenue = storage.AsFloat(r[2])
	s.Profit = storage.AsFloat(r[3])
	s.AvgMargin = transform.Round2(storage.AsFloat(r[4]))
	s.FirstSale, _ = storage.AsTime(r[5])
	s.LastSale, _ = storage.AsTime(r[6])
	return s, nil
}

// TopProducts returns the n products with the highest revenue.
func (l *Loader) TopProducts(ctx context.Context, n int) ([]Ranked, error) {
	q := fmt.Sprintf(`SELECT p.codigo_producto, p.nombre_producto, '', SUM(f.cantidad_vendida), SUM(f.total_linea)
FROM fact_ventas f
JOIN dim_producto p ON p.producto_key = f.producto_key
GROUP BY p.codigo_producto, p.nombre_producto
ORDER BY 5 DESC, 1
LIMIT %d`, max(n, 1))
	return l.ranked(ctx, "top products", q)
}

// TopLocations returns the n municipalities with the highest revenue;
// Quantity is the number of distinct sales.
func (l *Loader) TopLocations(ctx context.Context, n int) ([]Ranked, error) {
	q := fmt.Sprintf(`SELECT u.id_municipio_original, u.nombre_municipio, u.departamento,
  COUNT(DISTINCT f.numero_venta_original), SUM(f.total_linea)
FROM fact_ventas f
JOIN dim_ubicacion u ON u.ubicacion_key = f.ubicacion_key
GROUP BY u.id_municipio_original, u.nombre_municipio, u.departamento
ORDER BY 5 DESC, 1
LIMIT %d`, max(n, 1))
	return l.ranked(ctx, "top locations", q)
}

func (l *Loader) ranked(ctx context.Context, what, q string) ([]Ranked, error) {
	rows, err := l.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	out := make([]Ranked, 0, len(rows))
	for _, r := range rows {
		out = append(out, Ranked{
			Code:     storage.AsString(r[0]),
			Name:     storage.AsString(r[1]),
			Detail:   storage.AsString(r[2]),
			Quantity: storage.AsInt64(r[3]),
			Revenue:  transform.Round2(storage.AsFloat(r[4])),
		})
	}
	return out, nil
}

// LatestSaleDate returns the most recent fact sale date. ok is false when
// fact_ventas is empty.
func (l *Loader) LatestSaleDate(ctx context.Context) (t time.Time, ok bool, err error) {
	rows, err := l.query(ctx, `SELECT MAX(fecha_venta_original) FROM fact_ventas`)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest sale date: %w", err)
	}
	if len(rows) == 0 || rows[0][0] == nil {
		return time.Time{}, false, nil
	}
	t, ok = storage.AsTime(rows[0][0])
	return t, ok, nil
}
