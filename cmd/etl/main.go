// Command etl runs the sales warehouse ETL: it loads a pipeline config,
// optionally wires a metrics backend, and executes one run in the selected
// mode (full, dimensions, facts, incremental, test or calendar).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/logging"
	"salesdw/internal/metrics"
	"salesdw/internal/metrics/datadog"
	"salesdw/internal/metrics/prompush"
	"salesdw/internal/pipeline"
	"salesdw/internal/report"

	// register all backends with the storage factory; the config picks one.
	_ "salesdw/internal/storage/all"
)

const usage = "usage: etl -config path/to/pipeline.json [-mode full|dimensions|facts|incremental|test|calendar]"

var errUsage = errors.New("usage")

// runner is the slice of *pipeline.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline, opts pipeline.Options) (*pipeline.Report, error)
}

// appDeps holds the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(string) ([]byte, error)
	unmarshal   func([]byte, any) error
	newRunner   func(log pipeline.Logger, sink pipeline.Sink) runner
	openSink    func(ctx context.Context, spec, region string, stdout io.Writer) (report.Sink, error)
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:  os.ReadFile,
		unmarshal: json.Unmarshal,
		newRunner: func(log pipeline.Logger, sink pipeline.Sink) runner {
			return pipeline.NewDefaultRunner(log, sink)
		},
		openSink:    report.Open,
		initMetrics: initMetrics,
	}
}

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// cliFlags are the command-line overrides applied on top of the config file.
type cliFlags struct {
	config         string
	mode           string
	start, end     string
	since          string
	from, to       string
	batchSize      int
	ensureSchema   bool
	reportSink     string
	metricsBackend string
	validate       bool
	verbose        bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "pipeline config JSON path")
	fs.StringVar(&f.mode, "mode", string(pipeline.ModeFull), "run mode: full|dimensions|facts|incremental|test|calendar")
	fs.StringVar(&f.start, "start", "", "facts: first sale date (YYYY-MM-DD), requires -end")
	fs.StringVar(&f.end, "end", "", "facts: last sale date (YYYY-MM-DD), requires -start")
	fs.StringVar(&f.since, "since", "", "incremental: start date (default latest loaded sale)")
	fs.StringVar(&f.from, "from", "", "calendar start date (overrides calendar.from)")
	fs.StringVar(&f.to, "to", "", "calendar end date (overrides calendar.to)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "sale lines per batch (overrides runtime.batch_size)")
	fs.BoolVar(&f.ensureSchema, "ensure-schema", false, "create missing warehouse tables and indexes")
	fs.StringVar(&f.reportSink, "report", "", "report sink: stdout|none|file:<path>|s3://bucket/prefix (overrides report.sink)")
	fs.StringVar(&f.metricsBackend, "metrics-backend", os.Getenv("METRICS_BACKEND"), "metrics backend: none|datadog|pushgateway")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if strings.TrimSpace(f.config) == "" {
		fmt.Fprintln(stderr, usage)
		return f, errUsage
	}
	return f, nil
}

// applyFlags parses the mode and date flags and overlays them on opts.
func applyFlags(f cliFlags, opts *pipeline.Options) error {
	mode, err := pipeline.ParseMode(f.mode)
	if err != nil {
		return err
	}
	opts.Mode = mode

	if (f.start == "") != (f.end == "") {
		return fmt.Errorf("-start and -end must be set together")
	}
	dates := []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"start", f.start, &opts.Start},
		{"end", f.end, &opts.End},
		{"since", f.since, &opts.Since},
		{"from", f.from, &opts.CalendarFrom},
		{"to", f.to, &opts.CalendarTo},
	}
	for _, d := range dates {
		if d.raw == "" {
			continue
		}
		t, err := pipeline.ParseDate(d.raw)
		if err != nil {
			return fmt.Errorf("-%s: %w", d.name, err)
		}
		*d.dst = t
	}
	if !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return fmt.Errorf("-end %s is before -start %s", f.end, f.start)
	}

	if f.batchSize < 0 {
		return fmt.Errorf("-batch-size must be >= 0 (got %d)", f.batchSize)
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
		opts.IncrementalBatchSize = f.batchSize
	}
	if f.ensureSchema {
		opts.EnsureSchema = true
	}
	return nil
}

// runMain is main without process exits. Exit codes: 0 success, 1 runtime
// failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	// The flag set has already reported parse errors on stderr.
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	raw, err := deps.readFile(f.config)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var cfg config.Pipeline
	if err := deps.unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	cfg = cfg.Normalize()
	if f.reportSink != "" {
		cfg.Report.Sink = f.reportSink
	}

	issues := config.ValidatePipeline(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "invalid config: %s\n", f.config)
		return 1
	}
	if f.validate {
		fmt.Fprintf(stdout, "valid: %s\n", f.config)
		return 0
	}

	opts, err := pipeline.OptionsFromConfig(cfg, pipeline.ModeFull)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if err := applyFlags(f, &opts); err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, usage)
		return 2
	}

	level := cfg.Logging.Level
	if f.verbose {
		level = "debug"
	}
	zl := logging.New(logging.Config{Level: level, Format: cfg.Logging.Format, Timestamp: true, Output: stderr})
	logger := logging.Printf{L: zl}

	sink, err := deps.openSink(ctx, cfg.Report.Sink, cfg.Report.Region, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "report sink: %v\n", err)
		return 1
	}

	cleanup, err := deps.initMetrics(ctx, cfg.Job, f.metricsBackend)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	zl.Debug().
		Str("job", cfg.Job).
		Str("mode", string(opts.Mode)).
		Str("source", cfg.Source.Kind).
		Str("warehouse", cfg.Warehouse.Kind).
		Str("sink", cfg.Report.Sink).
		Msg("pipeline starting")

	start := time.Now()
	rep, err := deps.newRunner(logger, sink).Run(ctx, cfg, opts)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if rep != nil {
		zl.Info().
			Str("run", rep.RunID).
			Str("state", rep.State.String()).
			Int64("loaded", rep.Stats.Loaded).
			Int64("skipped", rep.Stats.Skipped).
			Dur("elapsed", time.Since(start).Truncate(time.Millisecond)).
			Msg("pipeline completed")
	}

	fmt.Fprintln(stdout, "ok")
	return 0
}

// metricsBackend is the lifecycle surface initMetrics owns.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

const defaultPushgatewayURL = "http://localhost:9091"

// initMetrics wires the named backend into the metrics package. The returned
// cleanup is never nil and flushes or closes whatever was wired.
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	noop := func() {}
	if jobName == "" {
		jobName = "salesdw"
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, datadog.WrapInitErr(err)
		}
		setMetricsBackend(b)
		return func() {
			// Close stops the flush loop and submits what is left.
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		url := strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(jobName, url)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
	}
}
