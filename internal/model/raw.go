// Package model holds the typed records that flow between extraction,
// transformation and loading.
package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RawProduct is one operational product row joined with its type and unit.
type RawProduct struct {
	Code  sql.NullString
	Name  sql.NullString
	Price sql.NullFloat64
	Cost  sql.NullFloat64
	Stock sql.NullInt64
	Type  sql.NullString
	Unit  sql.NullString
}

// RawClient is one operational client row. Age is filled by the extractor
// from BirthDate.
type RawClient struct {
	ID           sql.NullString
	Name         sql.NullString
	Address      sql.NullString
	Gender       sql.NullString
	DocNumber    sql.NullString
	BirthDate    NullTime
	Email        sql.NullString
	DocType      sql.NullString
	Municipality sql.NullString
	Phone        sql.NullString
	Age          sql.NullInt64
}

// RawLocation is one municipality. Department and Region are derived by the
// extractor from the municipality name.
type RawLocation struct {
	ID         sql.NullString
	Name       sql.NullString
	Department string
	Region     string
}

// RawPaymentMethod is one payment method. Type is derived by the extractor.
type RawPaymentMethod struct {
	ID   sql.NullString
	Name sql.NullString
	Type string
}

// RawSale is one sale line joined with the context needed to resolve all
// five dimensions.
type RawSale struct {
	SaleNumber      sql.NullString
	SaleDate        NullTime
	SaleType        sql.NullString
	ClientID        sql.NullString
	ProductCode     sql.NullString
	Quantity        sql.NullFloat64
	UnitPrice       sql.NullFloat64
	Subtotal        sql.NullFloat64
	UnitCost        sql.NullFloat64
	Discount        sql.NullFloat64
	LocationID      sql.NullString
	PaymentMethodID sql.NullString
}

// NullTime is a sql.Scanner that accepts time.Time as well as the textual
// forms drivers return when they do not parse dates (MySQL without
// parseTime, SQLite TEXT columns).
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullTime) Scan(v any) error {
	switch t := v.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = t, true
		return nil
	case string:
		return n.scanText(t)
	case []byte:
		return n.scanText(string(t))
	default:
		return fmt.Errorf("model: cannot scan %T into NullTime", v)
	}
}

func (n *NullTime) scanText(s string) error {
	s = strings.TrimSpace(s)
	// MySQL zero dates and empty birth dates mean "unknown".
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	ts, err := ParseTime(s)
	if err != nil {
		return err
	}
	n.Time, n.Valid = ts, true
	return nil
}

// ParseTime parses timestamps returned by SQL drivers as text.
//
// Supported formats:
//   - RFC3339Nano / RFC3339
//   - "2006-01-02 15:04:05Z07:00" and "2006-01-02 15:04:05.999999999Z07:00"
//   - "2006-01-02 15:04:05" and "2006-01-02" (interpreted as UTC)
//
// Zoned values keep their offset, so the calendar day is the one the
// source recorded.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	zoned := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
	}
	for _, layout := range zoned {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	for _, layout := range []string{"2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
