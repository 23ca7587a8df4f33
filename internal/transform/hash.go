package transform

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one named input to a row hash.
type field struct {
	name  string
	value any
}

func f(name string, v any) field { return field{name: name, value: v} }

// rowHash computes a deterministic SHA-256 over named fields.
//
// Canonicalization rules:
//   - Components are "name=value" joined with ASCII Unit Separator (0x1f).
//   - nil and invalid sql.Null* values are encoded as a single NUL byte so
//     missing differs from empty-string.
//   - Strings are trimmed of edge whitespace.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Output is a lowercase hex string (length 64).
func rowHash(fields ...field) string {
	var b strings.Builder
	b.Grow(len(fields) * 20)

	for i, fl := range fields {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(fl.name)
		b.WriteByte('=')
		appendCanonicalValue(&b, fl.value)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// appendCanonicalValue appends a stable, canonical representation of v.
// It avoids fmt.Sprint for common types to reduce allocations.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')

	case string:
		if hasEdgeSpace(t) {
			t = strings.TrimSpace(t)
		}
		b.WriteString(t)

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	case sql.NullString:
		if !t.Valid {
			b.WriteByte('\x00')
			return
		}
		appendCanonicalValue(b, t.String)
	case sql.NullInt64:
		if !t.Valid {
			b.WriteByte('\x00')
			return
		}
		b.WriteString(strconv.FormatInt(t.Int64, 10))

	default:
		b.WriteString(fmt.Sprint(t))
	}
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first == ' ' || first == '\t' || first == '\n' || first == '\r' ||
		last == ' ' || last == '\t' || last == '\n' || last == '\r'
}
