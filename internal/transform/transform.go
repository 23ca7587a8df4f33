// Package transform shapes extracted rows into dimension and fact rows.
//
// Everything here is pure: no store access, no clock. Record-level problems
// are counted on the run and the offending record is dropped; they never
// fail a batch.
package transform

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"salesdw/internal/model"
	"salesdw/internal/stats"
)

// Logger is the minimal logging interface used by the pipeline packages.
type Logger interface {
	Printf(format string, v ...any)
}

// Transformer maps raw rows to typed warehouse rows and records counters on
// the run it was created for.
type Transformer struct {
	run *stats.Run
	log Logger
}

// New returns a Transformer. run and log may be nil.
func New(run *stats.Run, log Logger) *Transformer {
	if run == nil {
		run = &stats.Run{}
	}
	return &Transformer{run: run, log: log}
}

func (t *Transformer) logf(format string, v ...any) {
	if t.log == nil {
		return
	}
	t.log.Printf(format, v...)
}

var errRequired = errors.New("missing required field")

func required(name string, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s", errRequired, name)
	}
	return nil
}

// Products maps raw products; rows without code or name are dropped as errors.
func (t *Transformer) Products(rows []model.RawProduct) []model.Product {
	out := make([]model.Product, 0, len(rows))
	for i, r := range rows {
		p, err := product(r)
		if err != nil {
			t.reject("products", i, err)
			continue
		}
		out = append(out, p)
	}
	t.done("products", len(rows), len(out))
	return out
}

func product(r model.RawProduct) (model.Product, error) {
	p := model.Product{
		Code:  cleanKey(r.Code),
		Name:  cleanNull(r.Name),
		Type:  cleanNull(r.Type),
		Unit:  cleanNull(r.Unit),
		Price: money(r.Price),
		Cost:  money(r.Cost),
	}
	if err := errors.Join(required("codigo_producto", p.Code), required("nombre_producto", p.Name)); err != nil {
		return model.Product{}, err
	}
	if r.Stock.Valid {
		p.Stock = r.Stock.Int64
	}
	p.Margin = Margin(p.Price, p.Cost)
	p.StockCategory = StockCategory(p.Stock)
	p.RowHash = rowHash(
		f("nombre_producto", p.Name), f("tipo_producto", p.Type), f("unidad_medida", p.Unit),
		f("precio_actual", p.Price), f("costo_actual", p.Cost), f("stock_actual", p.Stock),
		f("margen_actual", p.Margin), f("categoria_stock", p.StockCategory),
	)
	return p, nil
}

// Clients maps raw clients; rows without id or name are dropped as errors.
func (t *Transformer) Clients(rows []model.RawClient) []model.Client {
	out := make([]model.Client, 0, len(rows))
	for i, r := range rows {
		c, err := client(r)
		if err != nil {
			t.reject("clients", i, err)
			continue
		}
		out = append(out, c)
	}
	t.done("clients", len(rows), len(out))
	return out
}

func client(r model.RawClient) (model.Client, error) {
	c := model.Client{
		ID:           cleanKey(r.ID),
		Name:         cleanNull(r.Name),
		Gender:       Gender(r.Gender),
		DocType:      cleanNull(r.DocType),
		DocNumber:    cleanNull(r.DocNumber),
		Municipality: cleanNull(r.Municipality),
		Email:        CleanEmail(r.Email),
		Phone:        CleanPhone(r.Phone),
		Address:      cleanNull(r.Address),
	}
	if err := errors.Join(required("id_cliente", c.ID), required("nombre_cliente", c.Name)); err != nil {
		return model.Client{}, err
	}
	if r.Age.Valid && r.Age.Int64 > 0 {
		c.Age = r.Age
	}
	c.AgeBracket = AgeBracket(c.Age)
	c.Segment = Segment(c.Email, c.Phone)
	c.RowHash = rowHash(
		f("nombre_cliente", c.Name), f("genero_cliente", c.Gender), f("tipo_documento", c.DocType),
		f("numero_documento", c.DocNumber), f("municipio", c.Municipality), f("edad", c.Age),
		f("rango_edad", c.AgeBracket), f("segmento_cliente", c.Segment), f("email", c.Email),
		f("telefono_principal", c.Phone), f("direccion", c.Address),
	)
	return c, nil
}

// Locations maps municipalities; rows without id or name are dropped as errors.
func (t *Transformer) Locations(rows []model.RawLocation) []model.Location {
	out := make([]model.Location, 0, len(rows))
	for i, r := range rows {
		l := model.Location{
			ID:         cleanKey(r.ID),
			Name:       cleanNull(r.Name),
			Department: CleanText(r.Department),
			Region:     CleanText(r.Region),
			Zone:       DefaultZone,
		}
		if err := errors.Join(required("id_municipio", l.ID), required("nombre_municipio", l.Name)); err != nil {
			t.reject("locations", i, err)
			continue
		}
		l.RowHash = rowHash(
			f("nombre_municipio", l.Name), f("departamento", l.Department),
			f("region", l.Region), f("zona", l.Zone),
		)
		out = append(out, l)
	}
	t.done("locations", len(rows), len(out))
	return out
}

// PaymentMethods maps payment methods; rows without id or name are dropped as errors.
func (t *Transformer) PaymentMethods(rows []model.RawPaymentMethod) []model.PaymentMethod {
	out := make([]model.PaymentMethod, 0, len(rows))
	for i, r := range rows {
		m := model.PaymentMethod{
			ID:   cleanKey(r.ID),
			Name: cleanNull(r.Name),
			Type: CleanText(r.Type),
		}
		if err := errors.Join(required("id_medio_pago", m.ID), required("nombre_medio_pago", m.Name)); err != nil {
			t.reject("payment_methods", i, err)
			continue
		}
		m.RowHash = rowHash(f("nombre_medio_pago", m.Name), f("tipo_pago", m.Type))
		out = append(out, m)
	}
	t.done("payment_methods", len(rows), len(out))
	return out
}

// Sales maps sale lines. Rows without sale number, product code or client
// id are skipped. Quantity defaults to 1 when missing, invalid or zero and
// money to 0 when missing or invalid; derived money is rounded to 2
// decimals.
func (t *Transformer) Sales(rows []model.RawSale) []model.Sale {
	out := make([]model.Sale, 0, len(rows))
	skipped := 0
	for i, r := range rows {
		s, err := sale(r)
		if err != nil {
			skipped++
			t.logf("stage=transform kind=sales action=skip row=%d sale=%q reason=%q", i, r.SaleNumber.String, err.Error())
			continue
		}
		out = append(out, s)
	}
	if skipped > 0 {
		t.run.AddSkipped(skipped)
	}
	t.run.AddTransformed(len(out))
	t.logf("stage=transform kind=sales in=%d out=%d skipped=%d", len(rows), len(out), skipped)
	return out
}

func sale(r model.RawSale) (model.Sale, error) {
	s := model.Sale{
		SaleNumber:      cleanKey(r.SaleNumber),
		ProductCode:     cleanKey(r.ProductCode),
		ClientID:        cleanKey(r.ClientID),
		LocationID:      cleanKey(r.LocationID),
		PaymentMethodID: cleanKey(r.PaymentMethodID),
		SaleType:        cleanNull(r.SaleType),
		Quantity:        quantity(r.Quantity),
		UnitPrice:       money(r.UnitPrice),
		UnitCost:        money(r.UnitCost),
		Subtotal:        money(r.Subtotal),
		Discount:        money(r.Discount),
	}
	if err := errors.Join(
		required("numero_venta", s.SaleNumber),
		required("codigo_producto", s.ProductCode),
		required("id_cliente", s.ClientID),
	); err != nil {
		return model.Sale{}, err
	}
	if s.SaleType == "" {
		s.SaleType = DefaultSaleType
	}
	if r.SaleDate.Valid {
		s.SaleDate = r.SaleDate.Time
	}

	m := Line(s.Subtotal, s.Discount, s.UnitCost, s.Quantity)
	s.Total, s.Profit, s.Margin = m.Total, m.Profit, m.Margin
	s.UnitPrice = Round2(s.UnitPrice)
	s.UnitCost = Round2(s.UnitCost)
	s.Subtotal = Round2(s.Subtotal)
	s.Discount = Round2(s.Discount)
	return s, nil
}

// quantity truncates to a whole number of units. Missing, invalid and zero
// quantities are 1; negative quantities (returns) are kept.
func quantity(n sql.NullFloat64) int64 {
	if !n.Valid || math.IsNaN(n.Float64) || math.IsInf(n.Float64, 0) {
		return 1
	}
	if q := int64(n.Float64); q != 0 {
		return q
	}
	return 1
}

func (t *Transformer) reject(kind string, row int, err error) {
	t.run.AddErrors(1)
	t.logf("stage=transform kind=%s action=drop row=%d reason=%q", kind, row, err.Error())
}

func (t *Transformer) done(kind string, in, out int) {
	t.run.AddTransformed(out)
	t.logf("stage=transform kind=%s in=%d out=%d errors=%d", kind, in, out, in-out)
}
