package postgres

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"

	"salesdw/internal/storage"
	"salesdw/internal/storage/sqlsource"
)

func init() {
	// pgxpool for the warehouse; database/sql via the pgx stdlib driver for
	// an operational store that happens to live in Postgres.
	storage.RegisterWarehouse("postgres", NewWarehouse)
	storage.RegisterSource("postgres", NewSource)
}

// NewSource opens a Postgres operational store through database/sql.
func NewSource(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	src, err := sqlsource.Open(ctx, "pgx", cfg.DSN, sqlsource.Dollar)
	if err != nil {
		return nil, err
	}
	return src, nil
}
