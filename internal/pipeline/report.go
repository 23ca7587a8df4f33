package pipeline

import (
	"time"

	"salesdw/internal/load"
	"salesdw/internal/stats"
	"salesdw/internal/storage"
)

// PhaseResult is one executed phase. Result holds the phase's own outcome
// (load.DimResult, FactsResult, ...).
type PhaseResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ConnectionCheck is what the connection check observed. Schema is set when
// the run created missing warehouse objects.
type ConnectionCheck struct {
	SourceProducts int64                 `json:"source_products"`
	CalendarDays   int64                 `json:"calendar_days"`
	Schema         *storage.EnsureResult `json:"schema,omitempty"`
}

// FactsResult summarizes the facts phase.
type FactsResult struct {
	Strategy  string    `json:"strategy"` // "paged" or "range"
	Start     time.Time `json:"start,omitzero"`
	End       time.Time `json:"end,omitzero"`
	Available int64     `json:"available,omitempty"`
	Extracted int       `json:"extracted"`
	Batches   int       `json:"batches"`

	load.SalesResult
}

// Report is the outcome of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job,omitempty"`
	Mode       Mode      `json:"mode"`
	State      State     `json:"state"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	DurationMS int64     `json:"duration_ms"`

	Connections  *ConnectionCheck   `json:"connections,omitempty"`
	Phases       []PhaseResult      `json:"phases"`
	Tables       map[string]int64   `json:"tables,omitempty"`
	Sales        *load.SalesSummary `json:"sales,omitempty"`
	TopProducts  []load.Ranked      `json:"top_products,omitempty"`
	TopLocations []load.Ranked      `json:"top_locations,omitempty"`
	Stats        stats.Snapshot     `json:"stats"`
	Error        string             `json:"error,omitempty"`
}

// Phase returns the named phase result, if the run executed it.
func (r *Report) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}
