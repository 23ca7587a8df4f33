package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"salesdw/internal/storage"
	"salesdw/internal/storage/sqlsource"
)

// Warehouse implements storage.Warehouse for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native DATE/TIMESTAMP type. Dates are stored as TEXT
//     ("2006-01-02" for midnight values, "2006-01-02 15:04:05" otherwise, UTC)
//     so lexical order matches chronological order and MIN/MAX work.
//   - Upserts use ON CONFLICT (...) DO UPDATE SET col = excluded.col
//     (SQLite >= 3.24); fact dedupe uses INSERT OR IGNORE.
//   - The pool is capped at one connection so ":memory:" databases work.
type Warehouse struct {
	db *sql.DB
}

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
const maxParams = 32000

func init() {
	storage.RegisterWarehouse("sqlite", NewWarehouse)
	storage.RegisterSource("sqlite", NewSource)
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWarehouse opens a SQLite warehouse.
func NewWarehouse(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	db, err := open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Warehouse{db: db}, nil
}

// NewSource opens a SQLite operational store, used for local runs and tests.
func NewSource(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	db, err := open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return sqlsource.New(db, sqlsource.Question), nil
}

// WrapWarehouse adapts an already-open *sql.DB. The Warehouse takes ownership.
func WrapWarehouse(db *sql.DB) *Warehouse { return &Warehouse{db: db} }

func (w *Warehouse) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

func (w *Warehouse) Close() { _ = w.db.Close() }

// EnsureTables creates missing tables and indexes. Index existence is
// checked in sqlite_master so created and existing indexes are counted apart.
func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) (storage.EnsureResult, error) {
	var res storage.EnsureResult
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return res, err
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return res, fmt.Errorf("create table %s: %w", t.Name, err)
		}
		res.Tables++

		for _, idx := range t.Indexes {
			var one int
			err := w.db.QueryRowContext(ctx,
				`SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = ?`, idx.Name,
			).Scan(&one)
			switch {
			case err == nil:
				res.IndexesExisting++
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return res, fmt.Errorf("lookup index %s: %w", idx.Name, err)
			}
			if _, err := w.db.ExecContext(ctx, buildCreateIndexSQL(t.Name, idx)); err != nil {
				return res, fmt.Errorf("create index %s on %s: %w", idx.Name, t.Name, err)
			}
			res.IndexesCreated++
		}
	}
	return res, nil
}

// UpsertRows inserts rows, updating non-conflict columns on natural-key conflict.
func (w *Warehouse) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("sqlite: upsert into %s requires conflict columns", table)
	}

	var total int64
	per := storage.RowsPerStatement(maxParams, len(columns), 0)
	for _, chunk := range storage.Chunk(rows, per) {
		q, args := buildUpsertSQL(table, columns, chunk, conflictColumns)
		res, err := w.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("upsert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (w *Warehouse) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(keyColumn), sqlIdent(valueColumn), table)
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id sql.NullInt64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		if !id.Valid {
			return nil, fmt.Errorf(
				"sqlite: %s.%s is NULL; primary key not auto-generated (check primary_key.type mapping, e.g. use serial->INTEGER PRIMARY KEY)",
				table, valueColumn,
			)
		}
		out[storage.NormalizeKey(k)] = id.Int64
	}
	return out, rows.Err()
}

func (w *Warehouse) SelectAllKeyText(ctx context.Context, table, keyColumn, valueColumn string) (map[string]string, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(keyColumn), sqlIdent(valueColumn), table)
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v any
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = storage.NormalizeKey(v)
	}
	return out, rows.Err()
}

// SelectExistingKeys reads composite keys for rows matching filterValues,
// chunking the IN list.
func (w *Warehouse) SelectExistingKeys(ctx context.Context, table string, keyColumns []string, filterColumn string, filterValues []any) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if len(filterValues) == 0 {
		return out, nil
	}

	const chunk = 500
	for _, vals := range storage.Chunk(filterValues, chunk) {
		q := buildExistingKeysSQL(table, keyColumns, filterColumn, len(vals))
		rows, err := w.db.QueryContext(ctx, q, vals...)
		if err != nil {
			return nil, err
		}
		dest := make([]any, len(keyColumns))
		ptrs := make([]any, len(keyColumns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, err
			}
			out[storage.CompositeKey(dest...)] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// InsertFactRows performs chunked multi-row inserts.
//
// If dedupeColumns is non-empty, uses "INSERT OR IGNORE" which requires a UNIQUE
// constraint matching those columns in the destination table.
func (w *Warehouse) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var total int64
	per := storage.RowsPerStatement(maxParams, len(columns), 0)
	for _, chunk := range storage.Chunk(rows, per) {
		q, args := buildInsertSQL(table, columns, chunk, len(dedupeColumns) > 0)
		res, err := w.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (w *Warehouse) Exec(ctx context.Context, stmt string) (int64, error) {
	res, err := w.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (w *Warehouse) QueryRows(ctx context.Context, query string) ([][]any, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sqliteType maps the neutral column vocabulary onto SQLite storage classes.
func sqliteType(t string) string {
	lt := strings.ToLower(strings.TrimSpace(t))
	switch {
	case strings.HasPrefix(lt, "varchar"), strings.HasPrefix(lt, "char"), lt == "text":
		return "TEXT"
	case lt == "int", lt == "integer", lt == "bigint", lt == "smallint", lt == "bool", lt == "boolean":
		return "INTEGER"
	case strings.HasPrefix(lt, "numeric"), strings.HasPrefix(lt, "decimal"), lt == "real", strings.HasPrefix(lt, "double"):
		return "REAL"
	case lt == "date", strings.HasPrefix(lt, "timestamp"), lt == "datetime":
		return "TEXT"
	default:
		return strings.ToUpper(t)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	var tail []string

	if t.PrimaryKey != nil {
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial":
			// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		case "composite":
			tail = append(tail, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey.Columns)))
		default:
			return "", fmt.Errorf("%s unsupported primary key type: %s", t.Name, t.PrimaryKey.Type)
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if c.Nullable != nil && !*c.Nullable {
			col += " NOT NULL"
		}
		if c.Default != "" {
			col += " DEFAULT " + c.Default
		}
		// SQLite supports REFERENCES, but enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		tail = append(tail, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}
	parts = append(parts, tail...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func buildCreateIndexSQL(table string, idx storage.IndexSpec) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);", kind, sqlIdent(idx.Name), table, joinIdentList(idx.Columns))
}

// buildUpsertSQL builds one multi-row upsert. When every column is a
// conflict column the statement degrades to DO NOTHING.
func buildUpsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	q, args := buildValuesSQL("INSERT INTO ", table, columns, rows)

	var b strings.Builder
	b.WriteString(q)
	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdentList(conflictColumns))
	b.WriteString(")")

	isConflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		isConflict[c] = true
	}
	var sets []string
	for _, c := range columns {
		if isConflict[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", sqlIdent(c), sqlIdent(c)))
	}
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	b.WriteString(";")
	return b.String(), args
}

func buildInsertSQL(table string, columns []string, rows [][]any, ignoreConflicts bool) (string, []any) {
	prefix := "INSERT INTO "
	if ignoreConflicts {
		prefix = "INSERT OR IGNORE INTO "
	}
	q, args := buildValuesSQL(prefix, table, columns, rows)
	return q + ";", args
}

func buildValuesSQL(prefix, table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args
}

func buildExistingKeysSQL(table string, keyColumns []string, filterColumn string, n int) string {
	ph := strings.TrimRight(strings.Repeat("?,", n), ",")
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s IN (%s)`,
		joinIdentList(keyColumns), table, sqlIdent(filterColumn), ph)
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// bindValue converts times to the TEXT form this backend stores.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatSQLiteTime(*t)
	}
	return v
}

// formatSQLiteTime formats a time in UTC: date only for midnight values,
// second precision otherwise.
func formatSQLiteTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

var _ storage.Warehouse = (*Warehouse)(nil)
