package pipeline

import (
	"fmt"
	"strings"
)

// State is the position of a run in its lifecycle. States only move
// forward; Failed is terminal and reachable from any non-terminal state.
type State int

const (
	StateInit State = iota
	StateConnectionsVerified
	StateDimensionsLoaded
	StateFactsLoaded
	StateStatsUpdated
	StateReportGenerated
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"init", "connections_verified", "dimensions_loaded", "facts_loaded",
	"stats_updated", "report_generated", "done", "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// canAdvance reports whether from -> to is a legal transition.
func canAdvance(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to > from
}

// Mode selects which phases a run executes.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeDimensions  Mode = "dimensions"
	ModeFacts       Mode = "facts"
	ModeIncremental Mode = "incremental"
	ModeTest        Mode = "test"
	ModeCalendar    Mode = "calendar"
)

// Modes lists every mode in help order.
var Modes = []Mode{ModeFull, ModeDimensions, ModeFacts, ModeIncremental, ModeTest, ModeCalendar}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	names := make([]string, len(Modes))
	for i, k := range Modes {
		names[i] = string(k)
	}
	return "", fmt.Errorf("unknown mode %q (want %s)", s, strings.Join(names, "|"))
}
