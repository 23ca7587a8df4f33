package extract

import (
	"database/sql"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"salesdw/internal/model"
)

const (
	OtherDepartment = "Otros Departamentos"
	OtherRegion     = "Otras Regiones"
)

type geography struct {
	match      string // folded municipality substring
	department string
	region     string
}

var geographies = []geography{
	{"bogota", "Bogotá D.C.", "Región Central"},
	{"medellin", "Antioquia", "Región Antioquia"},
	{"cali", "Valle del Cauca", "Región Pacífico"},
	{"barranquilla", "Atlántico", "Región Caribe"},
}

// Geography derives department and region from a municipality name. The
// match ignores case and accents, so "BOGOTA" and "Bogotá" agree.
func Geography(municipality string) (department, region string) {
	name := fold(municipality)
	for _, g := range geographies {
		if strings.Contains(name, g.match) {
			return g.department, g.region
		}
	}
	return OtherDepartment, OtherRegion
}

const (
	PaymentCash     = "Efectivo"
	PaymentCard     = "Tarjeta"
	PaymentTransfer = "Transferencia"
	PaymentOther    = "Otro"
)

// PaymentType classifies a payment method name.
func PaymentType(name string) string {
	n := fold(name)
	switch {
	case strings.Contains(n, "efectivo"):
		return PaymentCash
	case strings.Contains(n, "tarjeta"), strings.Contains(n, "debito"), strings.Contains(n, "credito"):
		return PaymentCard
	case strings.Contains(n, "transferencia"), strings.Contains(n, "pse"):
		return PaymentTransfer
	default:
		return PaymentOther
	}
}

// Age returns completed years between birth and now, or NULL when the birth
// date is unknown or in the future.
func Age(birth model.NullTime, now time.Time) sql.NullInt64 {
	if !birth.Valid || birth.Time.IsZero() {
		return sql.NullInt64{}
	}
	by, bm, bd := birth.Time.Date()
	ny, nm, nd := now.Date()
	years := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		years--
	}
	if years < 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(years), Valid: true}
}

// fold lowercases s and strips combining marks.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
