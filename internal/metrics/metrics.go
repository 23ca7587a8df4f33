// Package metrics is the backend-agnostic metrics facade used by the ETL.
//
// Core packages call the package-level helpers; cmd/etl installs a concrete
// Backend (Datadog, Pushgateway) with SetBackend. Until then every call goes
// to a no-op backend.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	StepTotal    = "etl_step_total"            // labels: step, status
	StepDuration = "etl_step_duration_seconds" // labels: step, status
	RecordsTotal = "etl_records_total"         // labels: kind
	BatchesTotal = "etl_batches_total"
	RowsTotal    = "etl_rows_total" // labels: table, outcome
)

// Row outcomes reported under RowsTotal.
const (
	OutcomeInserted   = "inserted"
	OutcomeUpdated    = "updated"
	OutcomeUnchanged  = "unchanged"
	OutcomeSkipped    = "skipped"
	OutcomeUnresolved = "unresolved"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	current = b
	mu.Unlock()
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func IncCounter(name string, delta float64, labels Labels) { get().IncCounter(name, delta, labels) }

func ObserveHistogram(name string, value float64, labels Labels) {
	get().ObserveHistogram(name, value, labels)
}

// Flush asks the installed backend to submit buffered data.
func Flush() error { return get().Flush() }

// RecordStep counts one step execution and observes its duration. status is
// "ok" when err is nil, "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords counts n records of kind (e.g. "extracted", "transformed").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

func RecordBatch() { IncCounter(BatchesTotal, 1, nil) }

// RecordRows counts n warehouse rows of table with the given outcome.
func RecordRows(table, outcome string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": table, "outcome": outcome})
}
