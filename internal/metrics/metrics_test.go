package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type event struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recordingBackend struct {
	mu       sync.Mutex
	events   []event
	flushErr error
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"counter", name, delta, labels})
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"histogram", name, value, labels})
}

func (r *recordingBackend) Flush() error { return r.flushErr }

// These tests mutate the package-level backend and must not run in parallel.

func TestHelpers_EmitExpectedEvents(t *testing.T) {
	rb := &recordingBackend{flushErr: errors.New("boom")}
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("load_products", nil, 1500*time.Millisecond)
	RecordStep("extract_sales", errors.New("x"), time.Second)
	RecordRecords("extracted", 10)
	RecordRecords("extracted", 0)
	RecordBatch()
	RecordRows("fact_ventas", OutcomeInserted, 3)
	RecordRows("fact_ventas", OutcomeSkipped, 0)

	if len(rb.events) != 7 {
		t.Fatalf("events=%d want 7: %+v", len(rb.events), rb.events)
	}
	first := rb.events[0]
	if first.name != StepTotal || first.labels["step"] != "load_products" || first.labels["status"] != "ok" {
		t.Fatalf("first=%+v", first)
	}
	if d := rb.events[1]; d.name != StepDuration || d.value != 1.5 {
		t.Fatalf("duration=%+v", d)
	}
	if e := rb.events[2]; e.labels["status"] != "error" {
		t.Fatalf("error step=%+v", e)
	}
	last := rb.events[6]
	if last.name != RowsTotal || last.value != 3 || last.labels["table"] != "fact_ventas" || last.labels["outcome"] != OutcomeInserted {
		t.Fatalf("rows=%+v", last)
	}
	if err := Flush(); err == nil {
		t.Fatalf("Flush must surface backend error")
	}
}

func TestSetBackendNil_RestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(BatchesTotal, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush err=%v", err)
	}
}
