package storage

import (
	"strconv"
	"strings"
	"time"

	"salesdw/internal/model"
)

// AsInt64 converts a normalized query value to int64. Unknown or NULL values yield 0.
func AsInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int64(f)
		}
	case []byte:
		return AsInt64(string(t))
	}
	return 0
}

// AsFloat converts a normalized query value to float64. Unknown or NULL values yield 0.
func AsFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	case []byte:
		return AsFloat(string(t))
	}
	return 0
}

// AsString converts a normalized query value to a string. NULL yields "".
func AsString(v any) string {
	return NormalizeKey(v)
}

// AsTime converts a normalized query value to a time. Text values are parsed
// with model.ParseTime; anything unparseable yields the zero time and false.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := model.ParseTime(t)
		return ts, err == nil
	case []byte:
		ts, err := model.ParseTime(string(t))
		return ts, err == nil
	}
	return time.Time{}, false
}

// RowsPerStatement returns how many rows of width columns fit under a
// backend's bind-parameter limit, capped at maxRows when maxRows > 0.
func RowsPerStatement(maxParams, columns, maxRows int) int {
	if columns <= 0 {
		columns = 1
	}
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	return n
}

// Chunk splits rows into consecutive slices of at most size rows.
func Chunk[T any](rows []T, size int) [][]T {
	if size <= 0 || len(rows) <= size {
		if len(rows) == 0 {
			return nil
		}
		return [][]T{rows}
	}
	out := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
