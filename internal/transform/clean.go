package transform

import (
	"database/sql"
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// MaxTextLen caps free-text attributes, in runes.
const MaxTextLen = 255

// MaxPhoneLen caps cleaned phone numbers, in runes.
const MaxPhoneLen = 20

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// markupRe matches a closing or self-closing tag. A bare '<' or '&' is
	// ordinary text.
	markupRe = regexp.MustCompile(`</[A-Za-z][A-Za-z0-9]*\s*>|<[A-Za-z][A-Za-z0-9]*(\s[^<>]*)?/>`)
)

// CleanText strips HTML markup when the value carries tags, normalizes to
// NFC, trims and collapses internal whitespace and caps the result at
// MaxTextLen runes.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	if markupRe.MatchString(s) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return truncateRunes(s, MaxTextLen)
}

// cleanNull is CleanText over a nullable column; NULL becomes "".
func cleanNull(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return CleanText(s.String)
}

// cleanKey trims a natural key. Keys are compared byte for byte, so no
// other rewriting applies.
func cleanKey(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return strings.TrimSpace(s.String)
}

// CleanEmail lowercases and trims an address. Anything not shaped like
// local@domain.tld is discarded.
func CleanEmail(s sql.NullString) sql.NullString {
	if !s.Valid {
		return sql.NullString{}
	}
	e := strings.ToLower(strings.TrimSpace(s.String))
	if !emailRe.MatchString(e) {
		return sql.NullString{}
	}
	return sql.NullString{String: e, Valid: true}
}

// CleanPhone keeps digits, '+', '-', parentheses and spaces, trims the
// result and caps it at MaxPhoneLen. An empty result is NULL.
func CleanPhone(s sql.NullString) sql.NullString {
	if !s.Valid {
		return sql.NullString{}
	}
	var b strings.Builder
	for _, r := range s.String {
		switch {
		case r >= '0' && r <= '9', r == '+', r == '-', r == '(', r == ')', r == ' ', r == '\t':
			b.WriteRune(r)
		}
	}
	p := truncateRunes(strings.TrimSpace(b.String()), MaxPhoneLen)
	p = strings.TrimSpace(p)
	if p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: p, Valid: true}
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// money returns a usable monetary amount: NULL, NaN and Inf become 0.
// Negative amounts (returns, credit notes) are kept.
func money(n sql.NullFloat64) float64 {
	if !n.Valid || math.IsNaN(n.Float64) || math.IsInf(n.Float64, 0) {
		return 0
	}
	return n.Float64
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
