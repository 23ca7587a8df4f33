// Command probe profiles an operational store and bootstraps a pipeline
// config for cmd/etl.
//
// It samples the newest sale lines plus the full dimension snapshots, runs
// them through the transformer without writing anywhere, and emits either:
//
//   - a starter config (default, JSON on stdout) whose calendar covers the
//     sampled sale years, or
//   - a plain-text load profile (-report): rejected rows, validation rates
//     and sale lines referencing rows no dimension would load.
//
// # DSN resolution
//
// Source and warehouse DSNs follow the same precedence:
//
//  1. -dsn / -warehouse-dsn flag
//  2. SOURCE_DSN / WAREHOUSE_DSN
//  3. SOURCE_DSN_HOST, _PORT, _USER, _PASSWORD, _DB (and the WAREHOUSE_
//     equivalents) plus _PARAMS, _SSLMODE, _ENCRYPT and _SQLITE knobs
//
// A DSN taken whole from SOURCE_DSN or WAREHOUSE_DSN, and an unresolved
// warehouse DSN, are written as ${SOURCE_DSN} / ${WAREHOUSE_DSN}, which
// cmd/etl expands at load time.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/logging"
	"salesdw/internal/probe"
	"salesdw/internal/storage"

	_ "salesdw/internal/storage/all"
)

type appDeps struct {
	openSource func(ctx context.Context, cfg storage.Config) (storage.Source, error)
	getenv     func(string) string
	now        func() time.Time
}

func main() {
	config.LoadDotEnv()
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, appDeps{
		openSource: storage.NewSource,
		getenv:     os.Getenv,
		now:        time.Now,
	}))
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		sourceKind    = fs.String("source-kind", "mysql", "operational store: mysql|postgres|mssql|sqlite")
		sourceDSN     = fs.String("dsn", "", "operational store DSN (highest priority)")
		warehouseKind = fs.String("warehouse-kind", "postgres", "warehouse written into the config: postgres|sqlite")
		warehouseDSN  = fs.String("warehouse-dsn", "", "warehouse DSN written into the config")
		sample        = fs.Int("sample", probe.DefaultSampleSize, "newest sale lines to profile")
		job           = fs.String("job", "salesdw", "job name recorded in the config")
		report        = fs.Bool("report", false, "print the load profile instead of a config")
		pretty        = fs.Bool("pretty", true, "pretty-print JSON output")
		timeout       = fs.Duration("timeout", 60*time.Second, "overall probe timeout")
		verbose       = fs.Bool("v", false, "log extraction and transformation steps")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	srcKind := probe.NormalizeKind(*sourceKind)
	dsn, ok, err := probe.ResolveDSN(srcKind, *sourceDSN, "SOURCE_", deps.getenv)
	if err != nil {
		fmt.Fprintf(stderr, "source dsn: %v\n", err)
		return 2
	}
	if !ok {
		fmt.Fprintln(stderr, "missing source DSN: set -dsn, SOURCE_DSN or SOURCE_DSN_* variables")
		return 2
	}
	whKind := probe.NormalizeKind(*warehouseKind)
	whDSN, ok, err := probe.ResolveDSN(whKind, *warehouseDSN, "WAREHOUSE_", deps.getenv)
	if err != nil {
		fmt.Fprintf(stderr, "warehouse dsn: %v\n", err)
		return 2
	}
	if !ok || (strings.TrimSpace(*warehouseDSN) == "" && strings.TrimSpace(deps.getenv("WAREHOUSE_DSN")) != "") {
		whDSN = "${WAREHOUSE_DSN}"
	}

	level := "disabled"
	if *verbose {
		level = "debug"
	}
	var log probe.Logger = logging.Printf{L: logging.New(logging.Config{Level: level, Format: "console", Output: stderr})}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	src, err := deps.openSource(ctx, storage.Config{Kind: srcKind, DSN: dsn})
	if err != nil {
		fmt.Fprintf(stderr, "open source: %v\n", err)
		return 1
	}
	defer src.Close()

	rep, err := probe.Profile(ctx, src, probe.Options{SampleSize: *sample, Now: deps.now}, log)
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if *report {
		fmt.Fprint(stdout, rep.Text())
		return 0
	}

	// A DSN taken whole from the environment stays a reference so the
	// config carries no credentials.
	srcRef := dsn
	if strings.TrimSpace(*sourceDSN) == "" && strings.TrimSpace(deps.getenv("SOURCE_DSN")) != "" {
		srcRef = "${SOURCE_DSN}"
	}
	p := rep.Pipeline(strings.TrimSpace(*job),
		config.Database{Kind: srcKind, DSN: srcRef},
		config.Database{Kind: whKind, DSN: whDSN},
	)

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(p); err != nil {
		fmt.Fprintf(stderr, "encode config: %v\n", err)
		return 1
	}
	return 0
}
