package model

import (
	"database/sql"
	"time"
)

// DateLayout is the ISO layout of the time dimension's natural key.
const DateLayout = "2006-01-02"

// Product is a dim_producto row.
type Product struct {
	Code          string
	Name          string
	Type          string
	Unit          string
	Price         float64
	Cost          float64
	Stock         int64
	Margin        float64
	StockCategory string
	RowHash       string
}

func (p Product) NaturalKey() string { return p.Code }

// Client is a dim_cliente row. Purchase aggregates are not carried here: they
// are recomputed in the warehouse after facts load.
type Client struct {
	ID           string
	Name         string
	Gender       string
	DocType      string
	DocNumber    string
	Municipality string
	Age          sql.NullInt64
	AgeBracket   string
	Segment      string
	Email        sql.NullString
	Phone        sql.NullString
	Address      string
	RowHash      string
}

func (c Client) NaturalKey() string { return c.ID }

// Location is a dim_ubicacion row.
type Location struct {
	ID         string
	Name       string
	Department string
	Region     string
	Zone       string
	RowHash    string
}

func (l Location) NaturalKey() string { return l.ID }

// PaymentMethod is a dim_medio_pago row.
type PaymentMethod struct {
	ID      string
	Name    string
	Type    string
	RowHash string
}

func (m PaymentMethod) NaturalKey() string { return m.ID }

// Day is a dim_tiempo row.
type Day struct {
	Date        time.Time
	Year        int
	Month       int
	Day         int
	Weekday     int // 0 = Sunday
	MonthName   string
	WeekdayName string
	Quarter     int
	Weekend     bool
	RowHash     string
}

func (d Day) NaturalKey() string { return d.Date.Format(DateLayout) }

// SaleKey is the natural composite key of a fact row.
type SaleKey struct {
	SaleNumber  string
	ProductCode string
}

// Sale is a transformed sale line, still keyed by natural keys.
type Sale struct {
	SaleNumber      string
	ProductCode     string
	ClientID        string
	LocationID      string
	PaymentMethodID string // empty when the sale has no payment
	SaleDate        time.Time
	SaleType        string

	Quantity  int64
	UnitPrice float64
	UnitCost  float64
	Subtotal  float64
	Discount  float64
	Total     float64
	Profit    float64
	Margin    float64
}

func (s Sale) Key() SaleKey { return SaleKey{SaleNumber: s.SaleNumber, ProductCode: s.ProductCode} }

// DateKey is the time dimension natural key of the sale date.
func (s Sale) DateKey() string {
	if s.SaleDate.IsZero() {
		return ""
	}
	return s.SaleDate.Format(DateLayout)
}

// FactRow is a sale with every dimension resolved to its surrogate key.
type FactRow struct {
	Sale
	TimeKey          int64
	ProductKey       int64
	ClientKey        int64
	LocationKey      int64
	PaymentMethodKey sql.NullInt64
}
