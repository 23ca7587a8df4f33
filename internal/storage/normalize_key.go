package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a natural key value to a canonical string form,
// suitable for in-memory key maps (e.g. "P1", "8429529" or "2024-01-15").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps lookup maps consistent across backends. Midnight timestamps collapse
// to their ISO date so DATE columns match the time dimension's key.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey joins normalized key parts with the unit separator, matching
// the keys returned by Warehouse.SelectExistingKeys.
func CompositeKey(parts ...any) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(NormalizeKey(p))
	}
	return b.String()
}
