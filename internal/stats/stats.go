// Package stats carries the per-run ETL counters.
//
// A Run is created by the orchestrator for one invocation and passed by
// pointer into the extractor, transformer and loader. Stages add to it; the
// final report copies a Snapshot. A Run is not safe for concurrent use: the
// pipeline runs on a single worker.
package stats

import "time"

type Run struct {
	Started time.Time

	Extracted   int64
	Transformed int64
	Loaded      int64
	Updated     int64
	Unchanged   int64
	Skipped     int64
	Errors      int64
	Batches     int64

	// ByTable counts loaded (inserted) rows per warehouse table.
	ByTable map[string]int64
}

// New returns an empty Run started at now.
func New(now time.Time) *Run {
	return &Run{Started: now, ByTable: map[string]int64{}}
}

func (r *Run) AddExtracted(n int)   { r.Extracted += int64(n) }
func (r *Run) AddTransformed(n int) { r.Transformed += int64(n) }
func (r *Run) AddSkipped(n int)     { r.Skipped += int64(n) }
func (r *Run) AddErrors(n int)      { r.Errors += int64(n) }
func (r *Run) AddBatch()            { r.Batches++ }

// AddLoaded records rows inserted into table.
func (r *Run) AddLoaded(table string, n int) {
	r.Loaded += int64(n)
	if r.ByTable == nil {
		r.ByTable = map[string]int64{}
	}
	r.ByTable[table] += int64(n)
}

// AddUpserted records the outcome of a dimension upsert.
func (r *Run) AddUpserted(table string, inserted, updated, unchanged int) {
	r.AddLoaded(table, inserted)
	r.Updated += int64(updated)
	r.Unchanged += int64(unchanged)
}

// Snapshot is the immutable, report-friendly copy of a Run.
type Snapshot struct {
	Extracted   int64            `json:"extracted"`
	Transformed int64            `json:"transformed"`
	Loaded      int64            `json:"loaded"`
	Updated     int64            `json:"updated"`
	Unchanged   int64            `json:"unchanged"`
	Skipped     int64            `json:"skipped"`
	Errors      int64            `json:"errors"`
	Batches     int64            `json:"batches"`
	ByTable     map[string]int64 `json:"by_table,omitempty"`
}

// Snapshot copies the counters. A nil Run yields a zero Snapshot.
func (r *Run) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Extracted:   r.Extracted,
		Transformed: r.Transformed,
		Loaded:      r.Loaded,
		Updated:     r.Updated,
		Unchanged:   r.Unchanged,
		Skipped:     r.Skipped,
		Errors:      r.Errors,
		Batches:     r.Batches,
	}
	if len(r.ByTable) > 0 {
		s.ByTable = make(map[string]int64, len(r.ByTable))
		for k, v := range r.ByTable {
			s.ByTable[k] = v
		}
	}
	return s
}
