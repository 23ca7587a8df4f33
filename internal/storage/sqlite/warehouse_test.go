package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"salesdw/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func testSpec() storage.TableSpec {
	return storage.TableSpec{
		Name:       "dim_test",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "test_key", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "code", Type: "varchar(50)", Nullable: boolPtr(false)},
			{Name: "name", Type: "varchar(255)"},
			{Name: "price", Type: "numeric(12,2)"},
			{Name: "seen_at", Type: "timestamp"},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"code"}}},
		Indexes:     []storage.IndexSpec{{Name: "idx_dim_test_name", Columns: []string{"name"}}},
	}
}

func openTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	w, err := NewWarehouse(context.Background(), storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "dw.db")})
	if err != nil {
		t.Fatalf("NewWarehouse: %v", err)
	}
	t.Cleanup(w.Close)
	return w.(*Warehouse)
}

func TestBuildCreateTableSQL_MapsTypes(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateTableSQL(testSpec())
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS dim_test`,
		`"test_key" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"code" TEXT NOT NULL`,
		`"price" REAL`,
		`"seen_at" TEXT`,
		`UNIQUE ("code")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestBuildCreateTableSQL_CompositeKeyAndErrors(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "agg",
		PrimaryKey: &storage.PrimaryKeySpec{Type: "composite", Columns: []string{"a", "b"}},
		Columns:    []storage.ColumnSpec{{Name: "a", Type: "bigint"}, {Name: "b", Type: "bigint"}},
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	if !strings.Contains(ddl, `PRIMARY KEY ("a", "b")`) {
		t.Fatalf("ddl missing composite key:\n%s", ddl)
	}

	if _, err := buildCreateTableSQL(storage.TableSpec{}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
	bad := spec
	bad.Constraints = []storage.ConstraintSpec{{Kind: "check"}}
	if _, err := buildCreateTableSQL(bad); err == nil {
		t.Fatalf("expected error for unsupported constraint kind")
	}
}

func TestBuildUpsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildUpsertSQL("dim_test", []string{"code", "name"}, [][]any{{"A", "x"}, {"B", "y"}}, []string{"code"})
	want := `INSERT INTO dim_test ("code", "name") VALUES (?,?), (?,?) ON CONFLICT ("code") DO UPDATE SET "name" = excluded."name";`
	if q != want {
		t.Fatalf("q=\n%s\nwant\n%s", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}

	q, _ = buildUpsertSQL("dim_test", []string{"code"}, [][]any{{"A"}}, []string{"code"})
	if !strings.HasSuffix(q, "DO NOTHING;") {
		t.Fatalf("all-key upsert should DO NOTHING: %s", q)
	}
}

func TestBindValue_Times(t *testing.T) {
	t.Parallel()

	if got := bindValue(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)); got != "2024-01-15" {
		t.Fatalf("midnight bind=%v", got)
	}
	if got := bindValue(time.Date(2024, 1, 15, 10, 30, 5, 0, time.UTC)); got != "2024-01-15 10:30:05" {
		t.Fatalf("datetime bind=%v", got)
	}
	if got := bindValue("x"); got != "x" {
		t.Fatalf("passthrough bind=%v", got)
	}
}

func TestWarehouse_EnsureUpsertSelect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := openTestWarehouse(t)

	res, err := w.EnsureTables(ctx, []storage.TableSpec{testSpec()})
	if err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if res.Tables != 1 || res.IndexesCreated != 1 || res.IndexesExisting != 0 {
		t.Fatalf("first EnsureTables=%+v", res)
	}
	res, err = w.EnsureTables(ctx, []storage.TableSpec{testSpec()})
	if err != nil {
		t.Fatalf("EnsureTables again: %v", err)
	}
	if res.IndexesCreated != 0 || res.IndexesExisting != 1 {
		t.Fatalf("second EnsureTables=%+v, want existing index counted", res)
	}

	cols := []string{"code", "name", "price", "seen_at"}
	seen := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	rows := [][]any{{"A", "alpha", 1.5, seen}, {"B", "beta", 2.0, seen}}
	if _, err := w.UpsertRows(ctx, "dim_test", cols, rows, []string{"code"}); err != nil {
		t.Fatalf("UpsertRows: %v", err)
	}
	before, err := w.SelectAllKeyValue(ctx, "dim_test", "code", "test_key")
	if err != nil {
		t.Fatalf("SelectAllKeyValue: %v", err)
	}

	// Second upsert changes a name and must keep surrogate keys.
	rows[0][1] = "alpha2"
	if _, err := w.UpsertRows(ctx, "dim_test", cols, rows, []string{"code"}); err != nil {
		t.Fatalf("UpsertRows again: %v", err)
	}
	after, err := w.SelectAllKeyValue(ctx, "dim_test", "code", "test_key")
	if err != nil {
		t.Fatalf("SelectAllKeyValue: %v", err)
	}
	if len(after) != 2 || after["A"] != before["A"] || after["B"] != before["B"] {
		t.Fatalf("keys changed: before=%v after=%v", before, after)
	}

	names, err := w.SelectAllKeyText(ctx, "dim_test", "code", "name")
	if err != nil {
		t.Fatalf("SelectAllKeyText: %v", err)
	}
	if names["A"] != "alpha2" {
		t.Fatalf("names=%v", names)
	}

	got, err := w.QueryRows(ctx, `SELECT MIN(seen_at), SUM(price) FROM dim_test`)
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if ts, ok := storage.AsTime(got[0][0]); !ok || !ts.Equal(seen) {
		t.Fatalf("MIN(seen_at)=%v", got[0][0])
	}
	if storage.AsFloat(got[0][1]) != 3.5 {
		t.Fatalf("SUM(price)=%v", got[0][1])
	}
}

func TestWarehouse_InsertFactRowsDedupeAndExistingKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := openTestWarehouse(t)

	spec := storage.TableSpec{
		Name:        "fact_test",
		PrimaryKey:  &storage.PrimaryKeySpec{Name: "id", Type: "serial"},
		Columns:     []storage.ColumnSpec{{Name: "sale", Type: "varchar(50)"}, {Name: "product", Type: "varchar(50)"}, {Name: "qty", Type: "int"}},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"sale", "product"}}},
	}
	if _, err := w.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}

	cols := []string{"sale", "product", "qty"}
	rows := [][]any{{"S1", "P1", 1}, {"S1", "P2", 2}, {"S2", "P1", 3}}
	dedupe := []string{"sale", "product"}

	n, err := w.InsertFactRows(ctx, "fact_test", cols, rows, dedupe)
	if err != nil || n != 3 {
		t.Fatalf("InsertFactRows n=%d err=%v, want 3", n, err)
	}
	n, err = w.InsertFactRows(ctx, "fact_test", cols, rows, dedupe)
	if err != nil || n != 0 {
		t.Fatalf("re-insert n=%d err=%v, want 0", n, err)
	}

	keys, err := w.SelectExistingKeys(ctx, "fact_test", dedupe, "sale", []any{"S1"})
	if err != nil {
		t.Fatalf("SelectExistingKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys=%v, want 2 for S1", keys)
	}
	if _, ok := keys[storage.CompositeKey("S1", "P2")]; !ok {
		t.Fatalf("missing S1/P2 in %v", keys)
	}

	affected, err := w.Exec(ctx, `DELETE FROM fact_test WHERE sale = 'S2'`)
	if err != nil || affected != 1 {
		t.Fatalf("Exec affected=%d err=%v", affected, err)
	}
}
