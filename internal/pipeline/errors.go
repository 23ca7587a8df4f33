package pipeline

import (
	"errors"
	"fmt"

	"salesdw/internal/stats"
)

// ErrConnection marks failures to reach the source or the warehouse.
var ErrConnection = errors.New("connection failed")

// PhaseError is returned when a phase aborts a run. Work committed by
// earlier phases and batches stays in the warehouse.
type PhaseError struct {
	Phase string
	State State // last state reached before the failure
	Stats stats.Snapshot
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed after %s (loaded=%d skipped=%d errors=%d): %v",
		e.Phase, e.State, e.Stats.Loaded, e.Stats.Skipped, e.Stats.Errors, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
