package stats

import (
	"testing"
	"time"
)

func TestRun_CountersAndSnapshot(t *testing.T) {
	t.Parallel()

	r := New(time.Unix(0, 0))
	r.AddExtracted(10)
	r.AddTransformed(9)
	r.AddErrors(1)
	r.AddSkipped(2)
	r.AddBatch()
	r.AddUpserted("dim_producto", 3, 2, 4)
	r.AddLoaded("fact_ventas", 5)

	s := r.Snapshot()
	if s.Extracted != 10 || s.Transformed != 9 || s.Errors != 1 || s.Skipped != 2 || s.Batches != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.Loaded != 8 || s.Updated != 2 || s.Unchanged != 4 {
		t.Fatalf("unexpected load counters: %+v", s)
	}
	if s.ByTable["dim_producto"] != 3 || s.ByTable["fact_ventas"] != 5 {
		t.Fatalf("ByTable=%v", s.ByTable)
	}

	// Snapshot must be detached from later mutation.
	r.AddLoaded("fact_ventas", 1)
	if s.ByTable["fact_ventas"] != 5 {
		t.Fatalf("snapshot mutated: %v", s.ByTable)
	}
}

func TestRun_NilSnapshot(t *testing.T) {
	t.Parallel()

	var r *Run
	if got := r.Snapshot(); got.Loaded != 0 || got.ByTable != nil {
		t.Fatalf("nil snapshot=%+v", got)
	}
}
