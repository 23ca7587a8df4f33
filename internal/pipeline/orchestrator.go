// Package pipeline sequences extraction, transformation and loading into
// runs. One Orchestrator executes one run on a single worker; its state only
// moves forward and any phase error ends the run in StateFailed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"salesdw/internal/extract"
	"salesdw/internal/load"
	"salesdw/internal/metrics"
	"salesdw/internal/stats"
	"salesdw/internal/storage"
	"salesdw/internal/transform"
)

// Logger is the minimal logging interface used by the pipeline.
type Logger interface {
	Printf(format string, v ...any)
}

// Sink publishes the JSON report of a run.
type Sink interface {
	Publish(ctx context.Context, runID string, body []byte) error
}

const DefaultTopN = 5

// Options configures one run.
type Options struct {
	Mode Mode
	Job  string

	// BatchSize is the sale lines per page of a paged facts load.
	// IncrementalBatchSize replaces it when incremental mode has to page.
	// Date-ranged loads are one batch.
	BatchSize            int
	IncrementalBatchSize int

	// Start and End bound a date-ranged facts load; both inclusive. Zero
	// values mean a paged load over all sales.
	Start, End time.Time
	// Since is the incremental start date. Zero means the latest sale date
	// already in fact_ventas.
	Since time.Time

	// CalendarFrom and CalendarTo populate dim_tiempo. In full mode the
	// calendar is loaded only when both are set.
	CalendarFrom, CalendarTo time.Time

	EnsureSchema bool
	Timeout      time.Duration
	InsertChunk  int
	TopN         int
}

func (o Options) calendarEnabled() bool { return !o.CalendarFrom.IsZero() && !o.CalendarTo.IsZero() }

// Orchestrator runs one pipeline invocation.
type Orchestrator struct {
	Source    storage.Source
	Warehouse storage.Warehouse

	Extractor   *extract.Extractor
	Transformer *transform.Transformer
	Loader      *load.Loader
	Run         *stats.Run

	Options Options
	Logger  Logger
	Sink    Sink

	Now   func() time.Time
	NewID func() string

	state  State
	report *Report
}

// New wires an Orchestrator and its stages around one shared stats.Run.
func New(src storage.Source, wh storage.Warehouse, log Logger, opts Options) *Orchestrator {
	o := &Orchestrator{Source: src, Warehouse: wh, Logger: log, Options: opts}
	o.Run = stats.New(o.now())
	o.Extractor = &extract.Extractor{Source: src, Run: o.Run, Logger: log, Timeout: opts.Timeout, Now: o.now}
	o.Transformer = transform.New(o.Run, log)
	o.Loader = &load.Loader{Warehouse: wh, Run: o.Run, Logger: log, Timeout: opts.Timeout, InsertChunk: opts.InsertChunk, Now: o.now}
	return o
}

func (o *Orchestrator) logf(format string, v ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, v...)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

// State returns the current run state.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) advance(to State) error {
	if !canAdvance(o.state, to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", o.state, to)
	}
	o.logf("stage=state from=%s to=%s", o.state, to)
	o.state = to
	if o.report != nil {
		o.report.State = to
	}
	return nil
}

// Execute runs the configured mode and returns its report. On failure the
// report is still returned, in StateFailed, together with a *PhaseError.
func (o *Orchestrator) Execute(ctx context.Context) (*Report, error) {
	if _, err := ParseMode(string(o.Options.Mode)); err != nil {
		return nil, err
	}
	o.state = StateInit
	o.report = &Report{
		RunID:   o.newID(),
		Job:     o.Options.Job,
		Mode:    o.Options.Mode,
		State:   StateInit,
		Started: o.now(),
		Phases:  []PhaseResult{},
	}
	o.logf("stage=run run_id=%s mode=%s", o.report.RunID, o.Options.Mode)

	err := o.execute(ctx)
	if err == nil {
		err = o.advance(StateDone)
	}
	o.finish(err)

	if perr := o.publish(ctx); perr != nil {
		o.logf("stage=publish run_id=%s err=%v", o.report.RunID, perr)
		if err == nil {
			err = &PhaseError{Phase: "publish", State: o.state, Stats: o.Run.Snapshot(), Err: perr}
			o.report.State, o.state = StateFailed, StateFailed
			o.report.Error = err.Error()
		}
	}
	if err != nil {
		o.logf("stage=run run_id=%s state=%s err=%v", o.report.RunID, o.state, err)
		return o.report, err
	}
	o.logf("stage=run run_id=%s state=%s durMS=%d", o.report.RunID, o.state, o.report.DurationMS)
	return o.report, nil
}

func (o *Orchestrator) finish(err error) {
	if err != nil {
		_ = o.advance(StateFailed)
		o.report.Error = err.Error()
	}
	o.report.Finished = o.now()
	o.report.DurationMS = o.report.Finished.Sub(o.report.Started).Milliseconds()
	o.report.Stats = o.Run.Snapshot()
}

func (o *Orchestrator) publish(ctx context.Context) error {
	if o.Sink == nil {
		return nil
	}
	body, err := json.MarshalIndent(o.report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return o.Sink.Publish(ctx, o.report.RunID, body)
}

func (o *Orchestrator) execute(ctx context.Context) error {
	mode := o.Options.Mode
	if err := o.phase(ctx, "connections", o.verifyConnections); err != nil {
		return err
	}
	if err := o.advance(StateConnectionsVerified); err != nil {
		return err
	}

	switch mode {
	case ModeTest:
		// Connection check only.
	case ModeCalendar:
		if !o.Options.calendarEnabled() {
			return o.fail("calendar", errors.New("calendar mode needs both from and to dates"))
		}
		if err := o.phase(ctx, "calendar", o.loadCalendar); err != nil {
			return err
		}
		if err := o.advance(StateDimensionsLoaded); err != nil {
			return err
		}
	case ModeDimensions:
		if err := o.dimensionsPhase(ctx); err != nil {
			return err
		}
	case ModeFull:
		if err := o.dimensionsPhase(ctx); err != nil {
			return err
		}
		if err := o.factsPhase(ctx, o.loadFacts); err != nil {
			return err
		}
		if err := o.statsPhase(ctx, true); err != nil {
			return err
		}
	case ModeFacts:
		if err := o.factsPhase(ctx, o.loadFacts); err != nil {
			return err
		}
		if err := o.statsPhase(ctx, false); err != nil {
			return err
		}
	case ModeIncremental:
		if err := o.factsPhase(ctx, o.loadIncremental); err != nil {
			return err
		}
		if err := o.statsPhase(ctx, false); err != nil {
			return err
		}
	}

	if err := o.phase(ctx, "report", o.buildReport); err != nil {
		return err
	}
	return o.advance(StateReportGenerated)
}

func (o *Orchestrator) dimensionsPhase(ctx context.Context) error {
	if o.Options.Mode == ModeFull && o.Options.calendarEnabled() {
		if err := o.phase(ctx, "calendar", o.loadCalendar); err != nil {
			return err
		}
	}
	if err := o.phase(ctx, "dimensions", o.loadDimensions); err != nil {
		return err
	}
	return o.advance(StateDimensionsLoaded)
}

func (o *Orchestrator) factsPhase(ctx context.Context, fn func(context.Context) (any, error)) error {
	if err := o.phase(ctx, "facts", fn); err != nil {
		return err
	}
	return o.advance(StateFactsLoaded)
}

func (o *Orchestrator) statsPhase(ctx context.Context, daily bool) error {
	err := o.phase(ctx, "client_statistics", func(ctx context.Context) (any, error) {
		n, err := o.Loader.UpdateClientStatistics(ctx)
		return map[string]int64{"clients": n}, err
	})
	if err != nil {
		return err
	}
	if daily {
		err := o.phase(ctx, "daily_sales", func(ctx context.Context) (any, error) {
			n, err := o.Loader.RefreshDailySales(ctx)
			return map[string]int64{"rows": n}, err
		})
		if err != nil {
			return err
		}
	}
	return o.advance(StateStatsUpdated)
}

// phase runs fn, records its result in the report and converts a failure
// into a *PhaseError.
func (o *Orchestrator) phase(ctx context.Context, name string, fn func(context.Context) (any, error)) error {
	start := time.Now()
	o.logf("stage=%s status=start", name)
	res, err := fn(ctx)
	d := time.Since(start)
	metrics.RecordStep("phase_"+name, err, d)

	pr := PhaseResult{Name: name, Status: "ok", DurationMS: d.Milliseconds(), Result: res}
	if err != nil {
		pr.Status, pr.Error = "error", err.Error()
		o.report.Phases = append(o.report.Phases, pr)
		o.logf("stage=%s status=error durMS=%d err=%v", name, d.Milliseconds(), err)
		return &PhaseError{Phase: name, State: o.state, Stats: o.Run.Snapshot(), Err: err}
	}
	o.report.Phases = append(o.report.Phases, pr)
	o.logf("stage=%s status=ok durMS=%d", name, d.Milliseconds())
	return nil
}

// fail records a phase that could not start.
func (o *Orchestrator) fail(name string, err error) error {
	return o.phase(context.Background(), name, func(context.Context) (any, error) { return nil, err })
}

func (o *Orchestrator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.Options.Timeout
	if d <= 0 {
		d = load.DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (o *Orchestrator) verifyConnections(ctx context.Context) (any, error) {
	pingCtx, cancel := o.opContext(ctx)
	defer cancel()
	if err := o.Source.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrConnection, err)
	}
	if err := o.Warehouse.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: warehouse: %w", ErrConnection, err)
	}

	check := &ConnectionCheck{}
	if o.Options.EnsureSchema {
		res, err := o.Loader.EnsureSchema(ctx)
		if err != nil {
			return nil, err
		}
		check.Schema = &res
	}

	n, err := o.Extractor.ProductCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrConnection, err)
	}
	check.SourceProducts = n
	days, err := o.Loader.RowCount(ctx, load.TableTime)
	if err != nil {
		return nil, fmt.Errorf("%w: warehouse: %w", ErrConnection, err)
	}
	check.CalendarDays = days

	o.report.Connections = check
	o.logf("stage=connections source_products=%d calendar_days=%d", check.SourceProducts, check.CalendarDays)
	return nil, nil
}

func (o *Orchestrator) loadCalendar(ctx context.Context) (any, error) {
	days, err := transform.Calendar(o.Options.CalendarFrom, o.Options.CalendarTo)
	if err != nil {
		return nil, err
	}
	return o.Loader.LoadCalendar(ctx, days)
}

func (o *Orchestrator) buildReport(ctx context.Context) (any, error) {
	if o.Options.Mode == ModeTest {
		return nil, nil
	}
	counts, err := o.Loader.TableCounts(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := o.Loader.SalesSummary(ctx)
	if err != nil {
		return nil, err
	}
	n := o.Options.TopN
	if n <= 0 {
		n = DefaultTopN
	}
	products, err := o.Loader.TopProducts(ctx, n)
	if err != nil {
		return nil, err
	}
	locations, err := o.Loader.TopLocations(ctx, n)
	if err != nil {
		return nil, err
	}

	o.report.Tables = counts
	o.report.Sales = &summary
	o.report.TopProducts = products
	o.report.TopLocations = locations
	return nil, nil
}
