package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesdw/internal/storage"
)

/*
Warehouse implements storage.Warehouse for Postgres.

It provides:
  - Create-if-absent DDL for the star schema (tables, constraints, indexes)
  - Multi-row upserts with ON CONFLICT (...) DO UPDATE SET c = EXCLUDED.c
  - Idempotent fact inserts with ON CONFLICT (...) DO NOTHING
  - Key map reads for natural key -> surrogate key resolution
*/
type Warehouse struct {
	pool *pgxpool.Pool
}

// maxParams is the Postgres wire protocol limit on bind parameters.
const maxParams = 65535

// keyChunk bounds IN (...) lists when reading existing fact keys.
const keyChunk = 2000

// NewWarehouse creates a Postgres-backed Warehouse and verifies connectivity.
func NewWarehouse(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres warehouse ping: %w", err)
	}
	return &Warehouse{pool: pool}, nil
}

// WrapPool adapts an existing pool. The Warehouse takes ownership.
func WrapPool(pool *pgxpool.Pool) *Warehouse { return &Warehouse{pool: pool} }

func (w *Warehouse) Ping(ctx context.Context) error { return w.pool.Ping(ctx) }

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// EnsureTables creates schemas, tables and indexes that are missing.
//
// Index existence is looked up in pg_indexes first; a concurrent creator that
// wins the race surfaces as SQLSTATE 42P07 and is counted as existing.
func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) (storage.EnsureResult, error) {
	var res storage.EnsureResult
	for _, t := range tables {
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return res, err
		}
		if schemaSQL != "" {
			if _, err := w.pool.Exec(ctx, schemaSQL); err != nil && !isAlreadyExists(err) {
				return res, fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := w.pool.Exec(ctx, baseSQL); err != nil && !isAlreadyExists(err) {
			return res, fmt.Errorf("create table %s: %w", t.Name, err)
		}
		res.Tables++

		schema, _ := splitQualifiedName(t.Name)
		for _, idx := range t.Indexes {
			exists, err := w.indexExists(ctx, schema, idx.Name)
			if err != nil {
				return res, err
			}
			if exists {
				res.IndexesExisting++
				continue
			}
			if _, err := w.pool.Exec(ctx, buildCreateIndexSQL(t.Name, idx)); err != nil {
				if isAlreadyExists(err) {
					res.IndexesExisting++
					continue
				}
				return res, fmt.Errorf("create index %s on %s: %w", idx.Name, t.Name, err)
			}
			res.IndexesCreated++
		}
	}
	return res, nil
}

func (w *Warehouse) indexExists(ctx context.Context, schema, name string) (bool, error) {
	var one int
	err := w.pool.QueryRow(ctx,
		`SELECT 1 FROM pg_indexes WHERE indexname = $1 AND schemaname = COALESCE(NULLIF($2, ''), current_schema())`,
		name, schema,
	).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("lookup index %s: %w", name, err)
	}
}

// isAlreadyExists reports duplicate_table (42P07) and duplicate_object (42710).
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "42P07" || pgErr.Code == "42710"
}

// UpsertRows inserts rows and updates non-conflict columns on natural-key conflict.
func (w *Warehouse) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("postgres: upsert into %s requires conflict columns", table)
	}

	var total int64
	per := storage.RowsPerStatement(maxParams, len(columns), 0)
	for _, chunk := range storage.Chunk(rows, per) {
		q, args := buildUpsertSQL(table, columns, chunk, conflictColumns)
		cmd, err := w.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("upsert %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// InsertFactRows inserts fact rows in chunks.
//
// If dedupeColumns is non-empty, the INSERT is made idempotent using:
//
//	ON CONFLICT (<dedupeColumns...>) DO NOTHING
//
// which requires a unique constraint on exactly those columns.
func (w *Warehouse) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var total int64
	per := storage.RowsPerStatement(maxParams, len(columns), 0)
	for _, chunk := range storage.Chunk(rows, per) {
		q, args := buildInsertSQL(table, columns, chunk, dedupeColumns)
		cmd, err := w.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// SelectAllKeyValue returns a mapping from normalized key -> surrogate id for the whole dimension table.
//
// The returned map key is storage.NormalizeKey(original_key_value) so DATE
// keys and VARCHAR keys land in the same string form.
func (w *Warehouse) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectAllKeyValue: table, keyColumn, valueColumn are required")
	}

	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, pgIdent(keyColumn), pgIdent(valueColumn), table)
	rows, err := w.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectAllKeyValue: query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("SelectAllKeyValue: scan %s: %w", table, err)
		}
		out[storage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectAllKeyValue: rows %s: %w", table, err)
	}
	return out, nil
}

// SelectAllKeyText returns normalized key -> text value (row hashes).
func (w *Warehouse) SelectAllKeyText(ctx context.Context, table, keyColumn, valueColumn string) (map[string]string, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, pgIdent(keyColumn), pgIdent(valueColumn), table)
	rows, err := w.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectAllKeyText: query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v any
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("SelectAllKeyText: scan %s: %w", table, err)
		}
		out[storage.NormalizeKey(k)] = storage.NormalizeKey(v)
	}
	return out, rows.Err()
}

// SelectExistingKeys reads composite keys for rows whose filterColumn is in
// filterValues. It uses a parameterized IN (...) list (chunked) instead of
// ANY($1) arrays to avoid driver array-typing edge cases.
func (w *Warehouse) SelectExistingKeys(ctx context.Context, table string, keyColumns []string, filterColumn string, filterValues []any) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, vals := range storage.Chunk(filterValues, keyChunk) {
		q := buildExistingKeysSQL(table, keyColumns, filterColumn, len(vals))
		rows, err := w.pool.Query(ctx, q, vals...)
		if err != nil {
			return nil, fmt.Errorf("SelectExistingKeys: query %s: %w", table, err)
		}
		for rows.Next() {
			vs, err := rows.Values()
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[storage.CompositeKey(vs...)] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *Warehouse) Exec(ctx context.Context, stmt string) (int64, error) {
	cmd, err := w.pool.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// QueryRows runs query and normalizes pgx values (NUMERIC, int4, bytea) to
// the small set of Go types the report code understands.
func (w *Warehouse) QueryRows(ctx context.Context, query string) ([][]any, error) {
	rows, err := w.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	}
	return v
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgType maps the neutral column vocabulary onto Postgres types. Anything
// outside the vocabulary is passed through verbatim.
func pgType(t string) string {
	lt := strings.ToLower(strings.TrimSpace(t))
	switch lt {
	case "int", "integer":
		return "INTEGER"
	case "bool", "boolean":
		return "BOOLEAN"
	case "timestamp":
		return "TIMESTAMP"
	case "date":
		return "DATE"
	}
	return strings.TrimSpace(t)
}

// buildColumnDef renders a single column definition.
//
// Nullable semantics:
//   - nullable == nil  => NULL allowed (same as the SQLite backend).
//   - nullable == false=> NOT NULL.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(pgType(typ))

	if c.Nullable != nil && !*c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if d := strings.TrimSpace(c.Default); d != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(d)
	}
	// Foreign key references are expressed inline in the column definition.
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String(), nil
}

// buildTableConstraints renders table-level PRIMARY KEY (composite) and UNIQUE constraints.
func buildTableConstraints(t storage.TableSpec) ([]string, error) {
	var out []string
	if t.PrimaryKey != nil && strings.EqualFold(t.PrimaryKey.Type, "composite") {
		if len(t.PrimaryKey.Columns) == 0 {
			return nil, fmt.Errorf("table %s: composite primary key requires columns", t.Name)
		}
		out = append(out, "PRIMARY KEY ("+joinIdentList(t.PrimaryKey.Columns)+")")
	}
	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			out = append(out, "UNIQUE ("+joinIdentList(c.Columns)+")")
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "dw.dim_producto" => ("dw", "dim_producto")
//   - "dim_producto"    => ("", "dim_producto")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL builds the optional CREATE SCHEMA and the CREATE TABLE for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial":
			if strings.TrimSpace(t.PrimaryKey.Name) == "" {
				return "", "", fmt.Errorf("table %s: primary_key.name is required", t.Name)
			}
			cols = append(cols, fmt.Sprintf(`%s BIGSERIAL PRIMARY KEY`, pgIdent(t.PrimaryKey.Name)))
		case "composite":
		default:
			return "", "", fmt.Errorf("table %s: unsupported primary key type %q", t.Name, t.PrimaryKey.Type)
		}
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}

	constraints, err := buildTableConstraints(t)
	if err != nil {
		return "", "", err
	}
	cols = append(cols, constraints...)

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, t.Name, strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

func buildCreateIndexSQL(table string, idx storage.IndexSpec) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);", kind, pgIdent(idx.Name), table, joinIdentList(idx.Columns))
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	q, args := buildValuesSQL(table, columns, rows)
	if len(dedupeColumns) > 0 {
		q += " ON CONFLICT (" + joinIdentList(dedupeColumns) + ") DO NOTHING"
	}
	return q + ";", args
}

// buildUpsertSQL builds one multi-row upsert. When every column is a
// conflict column the statement degrades to DO NOTHING.
func buildUpsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	q, args := buildValuesSQL(table, columns, rows)

	isConflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		isConflict[c] = true
	}
	var sets []string
	for _, c := range columns {
		if isConflict[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
	}

	var b strings.Builder
	b.WriteString(q)
	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdentList(conflictColumns))
	b.WriteString(")")
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	b.WriteString(";")
	return b.String(), args
}

func buildValuesSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func buildExistingKeysSQL(table string, keyColumns []string, filterColumn string, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s IN (%s)`,
		joinIdentList(keyColumns), table, pgIdent(filterColumn), strings.Join(ph, ", "))
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, pgIdent(strings.TrimSpace(c)))
	}
	return strings.Join(out, ", ")
}

var _ storage.Warehouse = (*Warehouse)(nil)
