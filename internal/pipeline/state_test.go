package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"salesdw/internal/stats"
)

func TestCanAdvance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateConnectionsVerified, true},
		{StateConnectionsVerified, StateFactsLoaded, true},
		{StateFactsLoaded, StateDimensionsLoaded, false},
		{StateReportGenerated, StateDone, true},
		{StateInit, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateDone, false},
		{StateStatsUpdated, StateStatsUpdated, false},
	}
	for _, tc := range tests {
		if got := canAdvance(tc.from, tc.to); got != tc.want {
			t.Fatalf("canAdvance(%s, %s)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestState_TextForms(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		S State `json:"s"`
	}{StateConnectionsVerified})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"s":"connections_verified"}` {
		t.Fatalf("json=%s", b)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Fatalf("unknown state=%q", got)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"full", "FULL", " facts ", "incremental", "test", "calendar", "dimensions"} {
		if _, err := ParseMode(in); err != nil {
			t.Fatalf("ParseMode(%q): %v", in, err)
		}
	}
	_, err := ParseMode("everything")
	if err == nil || !strings.Contains(err.Error(), "full|dimensions|facts|incremental|test|calendar") {
		t.Fatalf("err=%v", err)
	}
}

func TestPhaseError(t *testing.T) {
	t.Parallel()

	inner := errors.Join(ErrConnection, errors.New("dial tcp: refused"))
	err := error(&PhaseError{Phase: "connections", State: StateInit, Stats: stats.Snapshot{Loaded: 3}, Err: inner})

	if !errors.Is(err, ErrConnection) {
		t.Fatalf("errors.Is(ErrConnection)=false for %v", err)
	}
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != "connections" {
		t.Fatalf("errors.As=%v", pe)
	}
	msg := err.Error()
	for _, want := range []string{"phase connections", "after init", "loaded=3", "refused"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
