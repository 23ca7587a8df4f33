// Package config defines the pipeline configuration file read by cmd/etl.
//
// The file is JSON. Before it is decoded, a .env file in the working
// directory (if any) is loaded into the environment, and every DSN and sink
// string is expanded with os.ExpandEnv, so credentials stay out of the file:
//
//	{
//	  "job": "ventas_dw",
//	  "source":    {"kind": "mysql",    "dsn": "${OLTP_DSN}"},
//	  "warehouse": {"kind": "postgres", "dsn": "${DW_DSN}"},
//	  "runtime":   {"batch_size": 1000, "timeout_seconds": 30},
//	  "report":    {"sink": "s3://bi-reports/etl"}
//	}
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"salesdw/internal/storage"
)

const (
	DefaultBatchSize       = 1000
	DefaultIncrementalSize = 500
	DefaultTimeout         = 30 * time.Second
	DefaultInsertChunk     = 1000
)

type Pipeline struct {
	Job       string   `json:"job"`
	Source    Database `json:"source"`
	Warehouse Database `json:"warehouse"`
	Runtime   Runtime  `json:"runtime"`
	Calendar  Calendar `json:"calendar"`
	Report    Report   `json:"report"`
	Logging   Logging  `json:"logging"`
}

// Database selects a registered storage backend.
type Database struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

func (d Database) StorageConfig() storage.Config {
	return storage.Config{Kind: d.Kind, DSN: d.DSN}
}

type Runtime struct {
	// BatchSize is the sales page size for paged fact extraction.
	BatchSize int `json:"batch_size"`
	// IncrementalBatchSize is the page size used by incremental runs.
	IncrementalBatchSize int `json:"incremental_batch_size"`
	// TimeoutSeconds bounds each store operation. ETL_TIMEOUT overrides it.
	TimeoutSeconds int `json:"timeout_seconds"`
	// InsertChunk caps rows per multi-row INSERT.
	InsertChunk int `json:"insert_chunk"`
	// EnsureSchema creates missing warehouse tables and indexes before the run.
	EnsureSchema bool `json:"ensure_schema"`
}

// Timeout returns the per-operation timeout.
func (r Runtime) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Calendar is the time-dimension range populated by full runs before
// dimensions load. Both dates are ISO (YYYY-MM-DD); empty disables it.
type Calendar struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (c Calendar) Enabled() bool { return c.From != "" && c.To != "" }

// Report selects where the run report goes: "stdout", "file:<path>",
// "s3://bucket/prefix" or "none".
type Report struct {
	Sink   string `json:"sink"`
	Region string `json:"region"`
}

type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadDotEnv loads .env into the process environment when present. A missing
// file is not an error; variables already set are not overridden.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Normalize expands environment references, applies defaults and the
// ETL_TIMEOUT override. It returns a copy.
func (p Pipeline) Normalize() Pipeline {
	p.Source.Kind = strings.TrimSpace(p.Source.Kind)
	p.Source.DSN = os.ExpandEnv(p.Source.DSN)
	p.Warehouse.Kind = strings.TrimSpace(p.Warehouse.Kind)
	p.Warehouse.DSN = os.ExpandEnv(p.Warehouse.DSN)
	p.Report.Sink = strings.TrimSpace(os.ExpandEnv(p.Report.Sink))
	p.Report.Region = os.ExpandEnv(p.Report.Region)

	if p.Job == "" {
		p.Job = "salesdw"
	}
	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Runtime.IncrementalBatchSize <= 0 {
		p.Runtime.IncrementalBatchSize = DefaultIncrementalSize
	}
	if p.Runtime.InsertChunk <= 0 {
		p.Runtime.InsertChunk = DefaultInsertChunk
	}
	if v := strings.TrimSpace(os.Getenv("ETL_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.Runtime.TimeoutSeconds = int(d.Round(time.Second) / time.Second)
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Runtime.TimeoutSeconds = n
		}
	}
	if p.Report.Sink == "" {
		p.Report.Sink = "stdout"
	}
	return p
}
