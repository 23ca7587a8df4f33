package pipeline

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/model"
	"salesdw/internal/storage"
)

// Runner opens the source and the warehouse for one run and closes both on
// every exit path.
type Runner struct {
	// storage-agnostic factory seams
	NewSource    func(ctx context.Context, cfg storage.Config) (storage.Source, error)
	NewWarehouse func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error)

	Logger Logger
	Sink   Sink
	Now    func() time.Time
}

func NewDefaultRunner(log Logger, sink Sink) *Runner {
	return &Runner{
		NewSource:    storage.NewSource,
		NewWarehouse: storage.NewWarehouse,
		Logger:       log,
		Sink:         sink,
	}
}

// Run executes one run of opts.Mode against the stores in cfg.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline, opts Options) (*Report, error) {
	src, err := r.NewSource(ctx, cfg.Source.StorageConfig())
	if err != nil {
		return nil, &PhaseError{Phase: "connect", State: StateInit, Err: fmt.Errorf("%w: source %s: %w", ErrConnection, cfg.Source.Kind, err)}
	}
	defer src.Close()

	wh, err := r.NewWarehouse(ctx, cfg.Warehouse.StorageConfig())
	if err != nil {
		return nil, &PhaseError{Phase: "connect", State: StateInit, Err: fmt.Errorf("%w: warehouse %s: %w", ErrConnection, cfg.Warehouse.Kind, err)}
	}
	defer wh.Close()

	o := New(src, wh, r.Logger, opts)
	o.Sink = r.Sink
	if r.Now != nil {
		o.Now = r.Now
		o.Run.Started = r.Now()
	}
	return o.Execute(ctx)
}

// OptionsFromConfig derives run options from a normalized pipeline file.
// Flags given on the command line override the result.
func OptionsFromConfig(cfg config.Pipeline, mode Mode) (Options, error) {
	opts := Options{
		Mode:                 mode,
		Job:                  cfg.Job,
		BatchSize:            cfg.Runtime.BatchSize,
		IncrementalBatchSize: cfg.Runtime.IncrementalBatchSize,
		EnsureSchema:         cfg.Runtime.EnsureSchema,
		Timeout:              cfg.Runtime.Timeout(),
		InsertChunk:          cfg.Runtime.InsertChunk,
		TopN:                 DefaultTopN,
	}
	if cfg.Calendar.Enabled() {
		from, err := ParseDate(cfg.Calendar.From)
		if err != nil {
			return opts, fmt.Errorf("calendar.from: %w", err)
		}
		to, err := ParseDate(cfg.Calendar.To)
		if err != nil {
			return opts, fmt.Errorf("calendar.to: %w", err)
		}
		opts.CalendarFrom, opts.CalendarTo = from, to
	}
	return opts, nil
}

// ParseDate parses an ISO date (YYYY-MM-DD) as UTC midnight. Empty input
// yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
