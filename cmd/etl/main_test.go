package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/metrics"
	"salesdw/internal/metrics/datadog"
	"salesdw/internal/pipeline"
	"salesdw/internal/report"
)

// fakeRunner records what runMain hands to the pipeline and returns a
// configurable error. Safe for concurrent use.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu       sync.Mutex
	lastCfg  config.Pipeline
	lastOpts pipeline.Options
}

func (r *fakeRunner) Run(_ context.Context, cfg config.Pipeline, opts pipeline.Options) (*pipeline.Report, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg, r.lastOpts = cfg, opts
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Report{RunID: "run-1", Job: cfg.Job, Mode: opts.Mode, State: pipeline.StateDone}, nil
}

func (r *fakeRunner) options() pipeline.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOpts
}

// fakeMetricsBackend is a deterministic metrics backend used by initMetrics tests.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// fakePushBackend stands in for the Pushgateway backend.
type fakePushBackend struct {
	flushErr error
	flushed  atomic.Int64
}

func (*fakePushBackend) IncCounter(string, float64, metrics.Labels)       {}
func (*fakePushBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakePushBackend) Flush() error {
	b.flushed.Add(1)
	return b.flushErr
}

// validPipeline stands in for json.Unmarshal with a config that passes
// validation.
func validPipeline(job string) func([]byte, any) error {
	return func(_ []byte, v any) error {
		p, ok := v.(*config.Pipeline)
		if !ok {
			return fmt.Errorf("unmarshal target type=%T, want *config.Pipeline", v)
		}
		p.Job = job
		p.Source = config.Database{Kind: "sqlite", DSN: "oltp.db"}
		p.Warehouse = config.Database{Kind: "sqlite", DSN: "dw.db"}
		p.Calendar = config.Calendar{From: "2024-01-01", To: "2024-12-31"}
		p.Logging = config.Logging{Level: "disabled"}
		return nil
	}
}

func discardSink(context.Context, string, string, io.Writer) (report.Sink, error) {
	return report.Discard{}, nil
}

func okDeps(fr *fakeRunner) appDeps {
	return appDeps{
		readFile:    func(string) ([]byte, error) { return []byte(`{}`), nil },
		unmarshal:   validPipeline("job1"),
		newRunner:   func(pipeline.Logger, pipeline.Sink) runner { return fr },
		openSink:    discardSink,
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	// Usage errors exit 2 before any config read, metrics init or run.
	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: []string{}, wantStderrSub: "usage: etl -config"},
		{name: "empty_config_value", args: []string{"-config", "   "}, wantStderrSub: "usage: etl -config"},
		{name: "unknown_flag_is_usage_error", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "bad_batch_size_type", args: []string{"-config", "c.json", "-batch-size", "x"}, wantStderrSub: "invalid value"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{
				readFile: func(string) ([]byte, error) {
					t.Fatalf("readFile must not be called on usage errors")
					return nil, nil
				},
				unmarshal: func([]byte, any) error {
					t.Fatalf("unmarshal must not be called on usage errors")
					return nil
				},
				newRunner: func(pipeline.Logger, pipeline.Sink) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return &fakeRunner{}
				},
				openSink: func(context.Context, string, string, io.Writer) (report.Sink, error) {
					t.Fatalf("openSink must not be called on usage errors")
					return nil, nil
				},
				initMetrics: func(context.Context, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return func() {}, nil
				},
			})

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FlagValueErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "unknown_mode", args: []string{"-mode", "weekly"}, wantStderrSub: "unknown mode"},
		{name: "start_without_end", args: []string{"-mode", "facts", "-start", "2024-01-01"}, wantStderrSub: "-start and -end"},
		{name: "bad_date", args: []string{"-since", "01/15/2024"}, wantStderrSub: "-since"},
		{name: "end_before_start", args: []string{"-start", "2024-02-01", "-end", "2024-01-01"}, wantStderrSub: "before"},
		{name: "negative_batch", args: []string{"-batch-size", "-5"}, wantStderrSub: "-batch-size"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fr := &fakeRunner{}
			var stdout, stderr bytes.Buffer
			args := append([]string{"-config", "cfg.json"}, tc.args...)
			code := runMain(context.Background(), args, &stdout, &stderr, okDeps(fr))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if fr.calls.Load() != 0 {
				t.Fatalf("runner called on flag error")
			}
		})
	}
}

func TestRunMain_ReadParseMetricsRun_FullFlow(t *testing.T) {
	t.Parallel()

	// Error precedence is read -> parse -> sink -> initMetrics -> run, and
	// cleanup runs exactly once whenever initMetrics succeeded.
	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		sinkErr          error
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "read_config_error",
			readErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "read config:",
		},
		{
			name:          "parse_config_error",
			unmarshalErr:  errors.New("bad json"),
			wantCode:      1,
			wantStderrSub: "parse config:",
		},
		{
			name:          "report_sink_error",
			sinkErr:       errors.New("no credentials"),
			wantCode:      1,
			wantStderrSub: "report sink:",
		},
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("db failed"),
			wantCode:         1,
			wantStderrSub:    "run:",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}

			var cleanupCalls atomic.Int64
			cleanup := func() { cleanupCalls.Add(1) }

			deps := appDeps{
				readFile: func(path string) ([]byte, error) {
					if path != "cfg.json" {
						t.Fatalf("readFile path=%q, want %q", path, "cfg.json")
					}
					if tc.readErr != nil {
						return nil, tc.readErr
					}
					return []byte(`{"job":"job1"}`), nil
				},
				unmarshal: func(data []byte, v any) error {
					if tc.unmarshalErr != nil {
						return tc.unmarshalErr
					}
					return validPipeline("job1")(data, v)
				},
				openSink: func(_ context.Context, spec, _ string, _ io.Writer) (report.Sink, error) {
					if spec != "stdout" {
						t.Fatalf("sink spec=%q, want normalized default %q", spec, "stdout")
					}
					if tc.sinkErr != nil {
						return nil, tc.sinkErr
					}
					return report.Discard{}, nil
				},
				initMetrics: func(_ context.Context, jobName, _ string) (func(), error) {
					if jobName != "job1" {
						t.Fatalf("jobName=%q, want %q", jobName, "job1")
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return cleanup, nil
				},
				newRunner: func(pipeline.Logger, pipeline.Sink) runner { return fr },
			}

			code := runMain(
				context.Background(),
				[]string{"-config", "cfg.json", "-metrics-backend", "none"},
				&stdout,
				&stderr,
				deps,
			)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_FlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	var stdout, stderr bytes.Buffer
	args := []string{
		"-config", "cfg.json",
		"-mode", "FACTS",
		"-start", "2024-01-01", "-end", "2024-01-31",
		"-from", "2023-01-01",
		"-batch-size", "250",
		"-ensure-schema",
	}
	if code := runMain(context.Background(), args, &stdout, &stderr, okDeps(fr)); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}

	opts := fr.options()
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	if opts.Mode != pipeline.ModeFacts {
		t.Fatalf("mode=%q, want facts", opts.Mode)
	}
	if !opts.Start.Equal(day(2024, 1, 1)) || !opts.End.Equal(day(2024, 1, 31)) {
		t.Fatalf("range=%v..%v", opts.Start, opts.End)
	}
	// -from overrides the config while calendar.to is kept.
	if !opts.CalendarFrom.Equal(day(2023, 1, 1)) || !opts.CalendarTo.Equal(day(2024, 12, 31)) {
		t.Fatalf("calendar=%v..%v", opts.CalendarFrom, opts.CalendarTo)
	}
	if opts.BatchSize != 250 || opts.IncrementalBatchSize != 250 {
		t.Fatalf("batch sizes=%d/%d, want 250", opts.BatchSize, opts.IncrementalBatchSize)
	}
	if !opts.EnsureSchema {
		t.Fatalf("EnsureSchema=false, want true")
	}
	if opts.Job != "job1" || opts.InsertChunk != config.DefaultInsertChunk || opts.Timeout != config.DefaultTimeout {
		t.Fatalf("config-derived options=%+v", opts)
	}
}

func TestRunMain_DefaultsToFullModeWithConfigBatchSizes(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-config", "cfg.json"}, &stdout, &stderr, okDeps(fr)); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	opts := fr.options()
	if opts.Mode != pipeline.ModeFull {
		t.Fatalf("mode=%q, want full", opts.Mode)
	}
	if opts.BatchSize != config.DefaultBatchSize || opts.IncrementalBatchSize != config.DefaultIncrementalSize {
		t.Fatalf("batch sizes=%d/%d", opts.BatchSize, opts.IncrementalBatchSize)
	}
	if !opts.Start.IsZero() || !opts.Since.IsZero() {
		t.Fatalf("unexpected dates in %+v", opts)
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := okDeps(fr)
	deps.initMetrics = func(context.Context, string, string) (func(), error) {
		t.Fatalf("initMetrics must not be called with -validate")
		return func() {}, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-validate"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "valid: cfg.json\n" {
		t.Fatalf("stdout=%q", got)
	}
	if fr.calls.Load() != 0 {
		t.Fatalf("runner called with -validate")
	}
}

func TestRunMain_InvalidConfigListsIssues(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := okDeps(fr)
	deps.unmarshal = func(_ []byte, v any) error {
		p := v.(*config.Pipeline)
		p.Warehouse = config.Database{Kind: "mssql", DSN: "x"}
		p.Report.Sink = "ftp://nowhere"
		return nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	for _, want := range []string{"source.kind", "warehouse.kind", "report.sink", "invalid config: cfg.json"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr=%q, want contains %q", stderr.String(), want)
		}
	}
	if fr.calls.Load() != 0 {
		t.Fatalf("runner called with invalid config")
	}
}

func TestRunMain_ReportFlagOverridesSink(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := okDeps(fr)
	var gotSpec string
	deps.openSink = func(_ context.Context, spec, _ string, _ io.Writer) (report.Sink, error) {
		gotSpec = spec
		return report.Discard{}, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-report", "none"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if gotSpec != "none" {
		t.Fatalf("sink spec=%q, want none", gotSpec)
	}
}

// The initMetrics tests swap package-level seams and so do not run in
// parallel.

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()

	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop", " NONE "} {
		cleanup, err := initMetrics(context.Background(), "job", name)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("initMetrics(%q) cleanup=nil, want non-nil", name)
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew := newDatadogBackend
	oldSet := setMetricsBackend
	oldLog := logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("datadog options JobName=%q, want %q", gotOpts.JobName, "jobA")
	}
	if gotOpts.FlushEvery != time.Minute {
		t.Fatalf("FlushEvery=%v, want 1m", gotOpts.FlushEvery)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1/1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew := newDatadogBackend
	oldSet := setMetricsBackend
	oldLog := logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "job", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") {
		t.Fatalf("log=%q, want contains close error prefix", logged.String())
	}
	if !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want contains underlying error", logged.String())
	}
}

func TestInitMetrics_Datadog_InitErrorIsWrapped(t *testing.T) {
	oldNew := newDatadogBackend
	oldSet := setMetricsBackend
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("DD_API_KEY is not set")
	}
	setMetricsBackend = func(any) { t.Fatalf("setMetricsBackend called after init failure") }

	cleanup, err := initMetrics(context.Background(), "job", "datadog")
	if err == nil || !strings.Contains(err.Error(), "datadog metrics init") {
		t.Fatalf("err=%v, want wrapped init error", err)
	}
	cleanup()
}

func TestInitMetrics_Pushgateway_FlushesOnCleanup(t *testing.T) {
	b := &fakePushBackend{flushErr: errors.New("gateway down")}

	oldNew := newPushBackend
	oldSet := setMetricsBackend
	oldLog := logPrintf
	defer func() {
		newPushBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	t.Setenv("PUSHGATEWAY_URL", "http://gw.example:9091")

	var gotJob, gotURL string
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		gotJob, gotURL = job, url
		return b, nil
	}
	var wired any
	setMetricsBackend = func(v any) { wired = v }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "", "pushgateway")
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotJob != "salesdw" || gotURL != "http://gw.example:9091" {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	if wired != b {
		t.Fatalf("wired backend=%v, want fake", wired)
	}

	cleanup()
	if b.flushed.Load() != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: pushgateway flush error: gateway down") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "unknown metrics backend")
	}
	if !strings.Contains(err.Error(), "none|datadog|pushgateway") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "none|datadog|pushgateway")
	}
}

// ---- Benchmarks ----

func BenchmarkRunMain_Success_NoIO(b *testing.B) {
	ctx := context.Background()
	deps := okDeps(&fakeRunner{})
	args := []string{"-config", "cfg.json", "-metrics-backend", "none"}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var stdout, stderr bytes.Buffer
		code := runMain(ctx, args, &stdout, &stderr, deps)
		if code != 0 {
			b.Fatalf("code=%d, stderr=%q", code, stderr.String())
		}
	}
}

func BenchmarkInitMetrics_None(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cleanup, err := initMetrics(ctx, "job", "none")
		if err != nil {
			b.Fatalf("err=%v", err)
		}
		cleanup()
	}
}

func BenchmarkInitMetrics_Unknown(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cleanup, err := initMetrics(ctx, "job", "nope")
		if err == nil {
			b.Fatalf("want error")
		}
		cleanup()
	}
}
