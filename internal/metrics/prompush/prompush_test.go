package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"salesdw/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", "  "); err == nil {
		t.Fatalf("expected error for empty gateway url")
	}
}

func TestBackend_CountersAndHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "load_sales", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "extracted"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{})
	b.IncCounter(metrics.BatchesTotal, 2, nil)
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"table": "fact_ventas", "outcome": "inserted"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"table": "dim_cliente"})
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.ObserveHistogram(metrics.StepDuration, 0.2, metrics.Labels{"step": "load_sales", "status": "ok"})
	b.ObserveHistogram(metrics.StepDuration, -1, metrics.Labels{"step": "load_sales", "status": "ok"})

	if got := testutil.ToFloat64(b.steps.WithLabelValues("load_sales", "ok")); got != 1 {
		t.Fatalf("steps=%v, want 1", got)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues("extracted")); got != 5 {
		t.Fatalf("records=%v, want 5", got)
	}
	if got := testutil.CollectAndCount(b.records); got != 1 {
		t.Fatalf("record series=%d, want 1 (empty kind ignored)", got)
	}
	if got := testutil.ToFloat64(b.batches); got != 2 {
		t.Fatalf("batches=%v, want 2", got)
	}
	if got := testutil.ToFloat64(b.rows.WithLabelValues("fact_ventas", "inserted")); got != 3 {
		t.Fatalf("rows inserted=%v, want 3", got)
	}
	if got := testutil.ToFloat64(b.rows.WithLabelValues("dim_cliente", "unknown")); got != 1 {
		t.Fatalf("rows unknown outcome=%v, want 1", got)
	}
	if got := testutil.CollectAndCount(b.durations); got != 1 {
		t.Fatalf("histogram series=%d, want 1", got)
	}
}

func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("salesdw_test", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method=%s, want PUT", method)
	}
	if path != "/metrics/job/salesdw_test" {
		t.Fatalf("path=%s", path)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("salesdw_test", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	err = b.Flush()
	if err == nil || !strings.Contains(err.Error(), "prompush: push") {
		t.Fatalf("Flush err=%v, want wrapped push error", err)
	}
}
