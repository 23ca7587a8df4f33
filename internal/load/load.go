// Package load is the only writer to the warehouse.
//
// Dimensions are upserted by natural key and classified against a pre-load
// row_hash snapshot. Facts are resolved to surrogate keys through KeyMaps,
// deduplicated on (sale number, product code) and inserted in fixed-size
// chunks. Client statistics and the daily aggregate are recomputed inside
// the warehouse after facts load.
package load

import (
	"context"
	"database/sql"
	"time"

	"salesdw/internal/stats"
	"salesdw/internal/storage"
)

// Logger is the minimal logging surface used by the loader.
type Logger interface {
	Printf(format string, v ...any)
}

const (
	DefaultTimeout     = 30 * time.Second
	DefaultInsertChunk = 1000
)

// Loader writes transformed records into a Warehouse. It is used by a single
// worker; Run is updated without locking.
type Loader struct {
	Warehouse storage.Warehouse
	Run       *stats.Run
	Logger    Logger

	// Timeout bounds each warehouse call. Zero means DefaultTimeout.
	Timeout time.Duration
	// InsertChunk is the number of fact rows per INSERT statement.
	InsertChunk int
	// Now stamps fecha_actualizacion. Nil means time.Now.
	Now func() time.Time
}

// New returns a Loader with default limits.
func New(w storage.Warehouse, run *stats.Run, log Logger) *Loader {
	return &Loader{Warehouse: w, Run: run, Logger: log}
}

func (l *Loader) logf(format string, v ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, v...)
	}
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loader) stats() *stats.Run {
	if l.Run == nil {
		l.Run = stats.New(l.now())
	}
	return l.Run
}

func (l *Loader) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := l.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (l *Loader) insertChunk() int {
	if l.InsertChunk > 0 {
		return l.InsertChunk
	}
	return DefaultInsertChunk
}

func nullInt(n sql.NullInt64) any {
	if !n.Valid {
		return nil
	}
	return n.Int64
}

func nullString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
