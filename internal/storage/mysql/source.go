// Package mysql registers a MySQL operational store.
package mysql

import (
	"context"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"salesdw/internal/storage"
	"salesdw/internal/storage/sqlsource"
)

func init() {
	storage.RegisterSource("mysql", NewSource)
}

// NewSource opens a MySQL operational store.
//
// The DSN is normalized so DATETIME columns arrive as time.Time in UTC; zero
// dates still arrive as text and are treated as unknown by model.NullTime.
func NewSource(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	src, err := sqlsource.Open(ctx, "mysql", dsn, sqlsource.Question)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// normalizeDSN forces parseTime and a UTC location on a go-sql-driver DSN.
func normalizeDSN(dsn string) (string, error) {
	c, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	c.ParseTime = true
	if c.Loc == nil {
		c.Loc = time.UTC
	}
	return c.FormatDSN(), nil
}
