package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"salesdw/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem. Path is the JSON path of the field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks a normalized pipeline against the registered
// storage backends. It never stops at the first problem.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	checkDB := func(path string, db Database, kinds []string) {
		switch {
		case db.Kind == "":
			add(SeverityError, path+".kind", "is required (one of %s)", strings.Join(kinds, ", "))
		case !slices.Contains(kinds, db.Kind):
			add(SeverityError, path+".kind", "unsupported kind %q (one of %s)", db.Kind, strings.Join(kinds, ", "))
		}
		if strings.TrimSpace(db.DSN) == "" {
			add(SeverityError, path+".dsn", "is empty (unset environment variable?)")
		}
	}
	checkDB("source", p.Source, storage.SourceKinds())
	checkDB("warehouse", p.Warehouse, storage.WarehouseKinds())

	if p.Runtime.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "must be >= 0 (got %d)", p.Runtime.BatchSize)
	} else if p.Runtime.BatchSize > 100_000 {
		add(SeverityWarning, "runtime.batch_size", "%d rows per page is unusually large", p.Runtime.BatchSize)
	}
	if p.Runtime.TimeoutSeconds < 0 {
		add(SeverityError, "runtime.timeout_seconds", "must be >= 0 (got %d)", p.Runtime.TimeoutSeconds)
	}

	if (p.Calendar.From == "") != (p.Calendar.To == "") {
		add(SeverityError, "calendar", "from and to must be set together")
	} else if p.Calendar.Enabled() {
		from, errFrom := time.Parse(time.DateOnly, p.Calendar.From)
		to, errTo := time.Parse(time.DateOnly, p.Calendar.To)
		if errFrom != nil {
			add(SeverityError, "calendar.from", "not an ISO date: %q", p.Calendar.From)
		}
		if errTo != nil {
			add(SeverityError, "calendar.to", "not an ISO date: %q", p.Calendar.To)
		}
		if errFrom == nil && errTo == nil && to.Before(from) {
			add(SeverityError, "calendar", "to (%s) is before from (%s)", p.Calendar.To, p.Calendar.From)
		}
	}

	if err := checkSink(p.Report.Sink); err != nil {
		add(SeverityError, "report.sink", "%v", err)
	}

	switch strings.ToLower(p.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		add(SeverityWarning, "logging.level", "unknown level %q, using info", p.Logging.Level)
	}
	switch strings.ToLower(p.Logging.Format) {
	case "", "json", "console":
	default:
		add(SeverityWarning, "logging.format", "unknown format %q, using json", p.Logging.Format)
	}

	return issues
}

func checkSink(sink string) error {
	switch {
	case sink == "" || sink == "stdout" || sink == "none":
		return nil
	case strings.HasPrefix(sink, "file:"):
		if strings.TrimPrefix(sink, "file:") == "" {
			return fmt.Errorf("file sink needs a path")
		}
		return nil
	case strings.HasPrefix(sink, "s3://"):
		bucket, _, _ := strings.Cut(strings.TrimPrefix(sink, "s3://"), "/")
		if bucket == "" {
			return fmt.Errorf("s3 sink needs a bucket")
		}
		return nil
	default:
		return fmt.Errorf("unsupported sink %q (stdout, none, file:<path>, s3://bucket/prefix)", sink)
	}
}
