package all

import (
	"reflect"
	"testing"

	"salesdw/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	if got, want := storage.SourceKinds(), []string{"mssql", "mysql", "postgres", "sqlite"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SourceKinds=%v want %v", got, want)
	}
	if got, want := storage.WarehouseKinds(), []string{"postgres", "sqlite"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("WarehouseKinds=%v want %v", got, want)
	}
}
