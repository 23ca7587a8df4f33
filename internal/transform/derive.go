package transform

import (
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"
)

// Stock categories.
const (
	StockNone   = "Sin Stock"
	StockLow    = "Bajo Stock"
	StockNormal = "Stock Normal"
	StockHigh   = "Alto Stock"
)

// Labels shared by several derivations.
const (
	Unspecified     = "No especificado"
	DefaultZone     = "Urbana"
	DefaultSaleType = "Contado"
)

var hundred = decimal.NewFromInt(100)

// Margin is (price-cost)/price*100 rounded to 2 decimals, 0 when price <= 0.
func Margin(price, cost float64) float64 {
	if price <= 0 {
		return 0
	}
	p := decimal.NewFromFloat(price)
	c := decimal.NewFromFloat(cost)
	return p.Sub(c).Div(p).Mul(hundred).Round(2).InexactFloat64()
}

// StockCategory buckets a stock level. Negative stock counts as none.
func StockCategory(stock int64) string {
	switch {
	case stock <= 0:
		return StockNone
	case stock <= 10:
		return StockLow
	case stock <= 50:
		return StockNormal
	default:
		return StockHigh
	}
}

// Gender normalizes f/femenino and m/masculino, case-insensitively.
func Gender(s sql.NullString) string {
	if !s.Valid {
		return Unspecified
	}
	switch strings.ToLower(strings.TrimSpace(s.String)) {
	case "f", "femenino":
		return "Femenino"
	case "m", "masculino":
		return "Masculino"
	}
	return Unspecified
}

// AgeBracket buckets an age in years.
func AgeBracket(age sql.NullInt64) string {
	if !age.Valid || age.Int64 <= 0 {
		return Unspecified
	}
	switch a := age.Int64; {
	case a < 18:
		return "Menor de 18"
	case a <= 25:
		return "18-25 años"
	case a <= 35:
		return "26-35 años"
	case a <= 50:
		return "36-50 años"
	default:
		return "Mayor de 50"
	}
}

// Segment is Premium with both contacts, Activo with one, Regular otherwise.
func Segment(email, phone sql.NullString) string {
	switch {
	case email.Valid && phone.Valid:
		return "Premium"
	case email.Valid || phone.Valid:
		return "Activo"
	default:
		return "Regular"
	}
}

// LineMeasures are the derived money columns of one sale line.
type LineMeasures struct {
	Total  float64
	Profit float64
	Margin float64
}

// Line computes total = subtotal - discount, profit = total - cost*qty and
// margin = profit/total*100 (0 when total <= 0), each rounded to 2 decimals.
func Line(subtotal, discount, unitCost float64, qty int64) LineMeasures {
	total := decimal.NewFromFloat(subtotal).Sub(decimal.NewFromFloat(discount))
	profit := total.Sub(decimal.NewFromFloat(unitCost).Mul(decimal.NewFromInt(qty)))

	m := LineMeasures{
		Total:  total.Round(2).InexactFloat64(),
		Profit: profit.Round(2).InexactFloat64(),
	}
	if total.IsPositive() {
		m.Margin = profit.Div(total).Mul(hundred).Round(2).InexactFloat64()
	}
	return m
}
