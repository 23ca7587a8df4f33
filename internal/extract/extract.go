// Package extract reads the operational store through a storage.Source.
//
// Every operation runs under its own timeout, adds to the run's extracted
// counter and logs one stage=extract line. Query errors are returned wrapped
// with the operation name; the orchestrator treats them as fatal.
package extract

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/metrics"
	"salesdw/internal/model"
	"salesdw/internal/stats"
	"salesdw/internal/storage"
)

// Logger is the minimal logging interface used by the pipeline packages.
type Logger interface {
	Printf(format string, v ...any)
}

const DefaultTimeout = 30 * time.Second

// Extractor is read-only over Source. Run and Logger may be nil.
type Extractor struct {
	Source  storage.Source
	Run     *stats.Run
	Logger  Logger
	Timeout time.Duration

	// Now is the clock used to compute client ages. Defaults to time.Now.
	Now func() time.Time
}

func (e *Extractor) logf(format string, v ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
	}
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// call runs fn under the per-operation timeout and records step metrics.
func call[T any](ctx context.Context, e *Extractor, op string, fn func(context.Context) (T, error)) (T, time.Duration, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := fn(ctx)
	d := time.Since(start)
	metrics.RecordStep("extract_"+op, err, d)
	if err != nil {
		e.logf("stage=extract kind=%s err=%v", op, err)
		var zero T
		return zero, d, fmt.Errorf("extract %s: %w", op, err)
	}
	return out, d, nil
}

func (e *Extractor) counted(op string, n int, d time.Duration) {
	if e.Run != nil {
		e.Run.AddExtracted(n)
	}
	metrics.RecordRecords("extracted", n)
	e.logf("stage=extract kind=%s rows=%d durMS=%d", op, n, d.Milliseconds())
}

// ExtractProducts returns every product joined with its type and unit.
func (e *Extractor) ExtractProducts(ctx context.Context) ([]model.RawProduct, error) {
	rows, d, err := call(ctx, e, "products", e.Source.Products)
	if err != nil {
		return nil, err
	}
	e.counted("products", len(rows), d)
	return rows, nil
}

// ExtractClients returns every client with its first phone and an age
// computed from the birth date against the extractor's clock.
func (e *Extractor) ExtractClients(ctx context.Context) ([]model.RawClient, error) {
	rows, d, err := call(ctx, e, "clients", e.Source.Clients)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range rows {
		rows[i].Age = Age(rows[i].BirthDate, now)
	}
	e.counted("clients", len(rows), d)
	return rows, nil
}

// ExtractLocations returns every municipality with department and region
// derived from its name.
func (e *Extractor) ExtractLocations(ctx context.Context) ([]model.RawLocation, error) {
	rows, d, err := call(ctx, e, "locations", e.Source.Locations)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Department, rows[i].Region = Geography(rows[i].Name.String)
	}
	e.counted("locations", len(rows), d)
	return rows, nil
}

// ExtractPaymentMethods returns every payment method with its type.
func (e *Extractor) ExtractPaymentMethods(ctx context.Context) ([]model.RawPaymentMethod, error) {
	rows, d, err := call(ctx, e, "payment_methods", e.Source.PaymentMethods)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Type = PaymentType(rows[i].Name.String)
	}
	e.counted("payment_methods", len(rows), d)
	return rows, nil
}

// ExtractSales returns one page of sale lines ordered by sale date DESC, sale
// number, product code.
func (e *Extractor) ExtractSales(ctx context.Context, batchSize, offset int) ([]model.RawSale, error) {
	rows, d, err := call(ctx, e, "sales", func(ctx context.Context) ([]model.RawSale, error) {
		return e.Source.SalesPage(ctx, batchSize, offset)
	})
	if err != nil {
		return nil, err
	}
	e.logf("stage=extract kind=sales limit=%d offset=%d", batchSize, offset)
	e.counted("sales", len(rows), d)
	return rows, nil
}

// ExtractSalesByDateRange returns every sale line whose date falls in
// [start, end], both days inclusive. start must not be after end.
func (e *Extractor) ExtractSalesByDateRange(ctx context.Context, start, end time.Time) ([]model.RawSale, error) {
	rows, d, err := call(ctx, e, "sales_range", func(ctx context.Context) ([]model.RawSale, error) {
		return e.Source.SalesBetween(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	e.logf("stage=extract kind=sales_range start=%s end=%s", start.Format(model.DateLayout), end.Format(model.DateLayout))
	e.counted("sales_range", len(rows), d)
	return rows, nil
}

// TotalSalesCount counts sale lines over the same joins the page query uses.
func (e *Extractor) TotalSalesCount(ctx context.Context) (int64, error) {
	n, d, err := call(ctx, e, "sales_count", e.Source.CountSales)
	if err != nil {
		return 0, err
	}
	e.logf("stage=extract kind=sales_count total=%d durMS=%d", n, d.Milliseconds())
	return n, nil
}

// ProductCount is used by test-mode runs to prove the source is readable.
func (e *Extractor) ProductCount(ctx context.Context) (int64, error) {
	n, _, err := call(ctx, e, "product_count", e.Source.CountProducts)
	return n, err
}
