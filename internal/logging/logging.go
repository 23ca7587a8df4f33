// Package logging builds the zerolog logger used by cmd/etl and adapts it to
// the Printf-style Logger interfaces declared by the pipeline packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination.
type Config struct {
	// Level is one of trace, debug, info, warn, error, disabled.
	Level string

	// Format is "json" (default) or "console".
	Format string

	Timestamp bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Timestamp: true, Output: os.Stderr}
}

// New returns a logger for cfg. Unlike a process-global logger, tests can
// build as many independent loggers as they need.
func New(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339, NoColor: true}
	}

	l := zerolog.New(out).Level(parseLevel(cfg.Level))
	if cfg.Timestamp {
		l = l.With().Timestamp().Logger()
	}
	return l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Printf adapts a zerolog.Logger to the Printf-style interface used by the
// extract, transform, load and pipeline packages. Each call becomes one
// event; "k=v" tokens in the formatted line are lifted into fields and the
// remaining text becomes the message. Lines carrying "err=" log at error
// level, lines carrying "action=skip" or "action=drop" at warn.
type Printf struct {
	L zerolog.Logger
}

func (p Printf) Printf(format string, v ...any) {
	line := fmt.Sprintf(format, v...)
	fields, msg := splitFields(line)

	ev := p.L.Info()
	if _, ok := fields["err"]; ok {
		ev = p.L.Error()
	} else if a := fields["action"]; a == "skip" || a == "drop" {
		ev = p.L.Warn()
	}
	for _, kv := range orderedFields(line, fields) {
		ev = ev.Str(kv[0], kv[1])
	}
	ev.Msg(msg)
}

// splitFields parses space-separated key=value tokens. An "err=" value runs
// to the end of the line since error text contains spaces.
func splitFields(line string) (map[string]string, string) {
	fields := make(map[string]string)
	var rest []string
	toks := strings.Fields(line)
	for i, tok := range toks {
		k, val, ok := strings.Cut(tok, "=")
		if !ok || k == "" || strings.ContainsAny(k, "\"'") {
			rest = append(rest, tok)
			continue
		}
		if k == "err" {
			fields[k] = strings.Join(append([]string{val}, toks[i+1:]...), " ")
			break
		}
		fields[k] = val
	}
	return fields, strings.Join(rest, " ")
}

func orderedFields(line string, fields map[string]string) [][2]string {
	out := make([][2]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, tok := range strings.Fields(line) {
		k, _, ok := strings.Cut(tok, "=")
		if !ok || seen[k] {
			continue
		}
		if v, found := fields[k]; found {
			out = append(out, [2]string{k, v})
			seen[k] = true
		}
		if k == "err" {
			break
		}
	}
	return out
}
