package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"salesdw/internal/model"
)

// Config is the minimal configuration needed to open a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Warehouse is the backend-agnostic interface for the analytical store.
//
// The interface speaks in tables, columns and rows. The star schema itself
// lives in the load package. Postgres implements it with $n placeholders and
// ON CONFLICT; SQLite with ? placeholders and TEXT timestamps.
type Warehouse interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. Callers treat Close as "call once".
	Close()

	// EnsureTables creates missing tables and indexes. Existing objects are
	// counted, never altered.
	EnsureTables(ctx context.Context, tables []TableSpec) (EnsureResult, error)

	// UpsertRows inserts rows and updates every non-conflict column in place
	// when a row with the same conflictColumns already exists.
	UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	// SelectAllKeyValue maps normalized keyColumn values to an integer valueColumn
	// (natural key -> surrogate key).
	SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)

	// SelectAllKeyText maps normalized keyColumn values to a text valueColumn
	// (natural key -> row_hash).
	SelectAllKeyText(ctx context.Context, table, keyColumn, valueColumn string) (map[string]string, error)

	// SelectExistingKeys returns the composite keys (see CompositeKey) of rows
	// whose filterColumn is one of filterValues.
	SelectExistingKeys(ctx context.Context, table string, keyColumns []string, filterColumn string, filterValues []any) (map[string]struct{}, error)

	// InsertFactRows bulk inserts rows. When dedupeColumns is non-empty the
	// insert must be idempotent on those columns.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)

	// Exec runs a statement without arguments and returns rows affected.
	Exec(ctx context.Context, stmt string) (int64, error)

	// QueryRows runs a read-only query without arguments. Values are
	// normalized to nil, int64, float64, string, bool or time.Time.
	QueryRows(ctx context.Context, query string) ([][]any, error)
}

// Source is the read-only extraction contract for the operational store.
type Source interface {
	Ping(ctx context.Context) error
	Close()

	Products(ctx context.Context) ([]model.RawProduct, error)
	Clients(ctx context.Context) ([]model.RawClient, error)
	Locations(ctx context.Context) ([]model.RawLocation, error)
	PaymentMethods(ctx context.Context) ([]model.RawPaymentMethod, error)

	// SalesPage returns one page of sale lines ordered by sale date DESC,
	// sale number, product code.
	SalesPage(ctx context.Context, limit, offset int) ([]model.RawSale, error)

	// SalesBetween returns sale lines whose sale date falls in [start, end]
	// (both calendar days inclusive), same ordering as SalesPage.
	SalesBetween(ctx context.Context, start, end time.Time) ([]model.RawSale, error)

	CountSales(ctx context.Context) (int64, error)
	CountProducts(ctx context.Context) (int64, error)
}

// EnsureResult reports what EnsureTables did.
type EnsureResult struct {
	Tables          int
	IndexesCreated  int
	IndexesExisting int
}

type (
	warehouseFactory func(ctx context.Context, cfg Config) (Warehouse, error)
	sourceFactory    func(ctx context.Context, cfg Config) (Source, error)
)

var (
	regMu              sync.RWMutex
	warehouseFactories = map[string]warehouseFactory{}
	sourceFactories    = map[string]sourceFactory{}
)

// RegisterWarehouse registers a warehouse backend under a kind (e.g. "postgres", "sqlite").
//
// Call it from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func RegisterWarehouse(kind string, f warehouseFactory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("storage: RegisterWarehouse called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterWarehouse called with nil factory")
	}
	if _, exists := warehouseFactories[kind]; exists {
		panic(fmt.Sprintf("storage: warehouse factory already registered for kind=%q", kind))
	}
	warehouseFactories[kind] = f
}

// RegisterSource registers a source backend under a kind (e.g. "mysql", "mssql").
// It panics under the same conditions as RegisterWarehouse.
func RegisterSource(kind string, f sourceFactory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("storage: RegisterSource called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterSource called with nil factory")
	}
	if _, exists := sourceFactories[kind]; exists {
		panic(fmt.Sprintf("storage: source factory already registered for kind=%q", kind))
	}
	sourceFactories[kind] = f
}

// NewWarehouse constructs a Warehouse using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewWarehouse(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing warehouse kind")
	}

	regMu.RLock()
	f := warehouseFactories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported warehouse kind=%s (registered: %v)", cfg.Kind, WarehouseKinds())
	}
	return f(ctx, cfg)
}

// NewSource constructs a Source using the registered backend factory.
func NewSource(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing source kind")
	}

	regMu.RLock()
	f := sourceFactories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported source kind=%s (registered: %v)", cfg.Kind, SourceKinds())
	}
	return f(ctx, cfg)
}

// WarehouseKinds lists registered warehouse kinds in sorted order.
func WarehouseKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	return sortedKeys(warehouseFactories)
}

// SourceKinds lists registered source kinds in sorted order.
func SourceKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	return sortedKeys(sourceFactories)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
