package pipeline

import (
	"context"
	"time"

	"salesdw/internal/load"
	"salesdw/internal/metrics"
	"salesdw/internal/model"
	"salesdw/internal/transform"
)

// DimensionsResult is the outcome of the dimensions phase, one entry per
// table in load order.
type DimensionsResult struct {
	Tables     []load.DimResult       `json:"tables"`
	Validation []transform.Validation `json:"validation"`
}

// dimension runs extract, transform, validate and load for one dimension.
func dimension[R, T any](
	ctx context.Context,
	out *DimensionsResult,
	extractFn func(context.Context) ([]R, error),
	transformFn func([]R) []T,
	validateFn func([]T) transform.Validation,
	loadFn func(context.Context, []T) (load.DimResult, error),
) error {
	raw, err := extractFn(ctx)
	if err != nil {
		return err
	}
	rows := transformFn(raw)
	out.Validation = append(out.Validation, validateFn(rows))
	res, err := loadFn(ctx, rows)
	if err != nil {
		return err
	}
	out.Tables = append(out.Tables, res)
	return nil
}

func (o *Orchestrator) loadDimensions(ctx context.Context) (any, error) {
	e, t, l := o.Extractor, o.Transformer, o.Loader
	out := &DimensionsResult{}

	if err := dimension(ctx, out, e.ExtractProducts, t.Products, transform.ValidateProducts, l.LoadProducts); err != nil {
		return out, err
	}
	if err := dimension(ctx, out, e.ExtractClients, t.Clients, transform.ValidateClients, l.LoadClients); err != nil {
		return out, err
	}
	if err := dimension(ctx, out, e.ExtractLocations, t.Locations, transform.ValidateLocations, l.LoadLocations); err != nil {
		return out, err
	}
	if err := dimension(ctx, out, e.ExtractPaymentMethods, t.PaymentMethods, transform.ValidatePaymentMethods, l.LoadPaymentMethods); err != nil {
		return out, err
	}
	for _, v := range out.Validation {
		o.logf("stage=validate kind=%s total=%d valid=%d invalid=%d rate=%.2f", v.Kind, v.Total, v.Valid, v.Invalid, v.Rate)
	}
	return out, nil
}

func (o *Orchestrator) batchSize(incremental bool) int {
	n := o.Options.BatchSize
	if incremental && o.Options.IncrementalBatchSize > 0 {
		n = o.Options.IncrementalBatchSize
	}
	if n <= 0 {
		n = 1000
	}
	return n
}

func (o *Orchestrator) loadFacts(ctx context.Context) (any, error) {
	if !o.Options.Start.IsZero() && !o.Options.End.IsZero() {
		return o.factsByRange(ctx, o.Options.Start, o.Options.End)
	}
	return o.factsPaged(ctx, o.batchSize(false))
}

// loadIncremental loads [since, today]. Without an explicit since date it
// resumes from the latest loaded sale date; an empty fact table falls back
// to a paged load of everything.
func (o *Orchestrator) loadIncremental(ctx context.Context) (any, error) {
	since := o.Options.Since
	if since.IsZero() {
		latest, ok, err := o.Loader.LatestSaleDate(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			o.logf("stage=facts strategy=incremental action=bootstrap reason=%q", "fact_ventas is empty")
			return o.factsPaged(ctx, o.batchSize(true))
		}
		since = latest
	}
	return o.factsByRange(ctx, since, o.now())
}

// factsPaged pages through all sales until a page comes back shorter than
// size.
func (o *Orchestrator) factsPaged(ctx context.Context, size int) (FactsResult, error) {
	res := FactsResult{Strategy: "paged"}
	total, err := o.Extractor.TotalSalesCount(ctx)
	if err != nil {
		return res, err
	}
	res.Available = total
	o.logf("stage=facts strategy=paged available=%d batch_size=%d", total, size)

	maps, err := o.Loader.KeyMaps(ctx)
	if err != nil {
		return res, err
	}
	for offset := 0; ; offset += size {
		raw, err := o.Extractor.ExtractSales(ctx, size, offset)
		if err != nil {
			return res, err
		}
		if len(raw) == 0 {
			break
		}
		if err := o.loadBatch(ctx, &res, raw, maps); err != nil {
			return res, err
		}
		if len(raw) < size {
			break
		}
	}
	return res, nil
}

// factsByRange extracts, transforms and loads [start, end] in one pass.
// LoadSales bounds statement size on its own.
func (o *Orchestrator) factsByRange(ctx context.Context, start, end time.Time) (FactsResult, error) {
	res := FactsResult{Strategy: "range", Start: dateOnly(start), End: dateOnly(end)}
	raw, err := o.Extractor.ExtractSalesByDateRange(ctx, res.Start, res.End)
	if err != nil {
		return res, err
	}
	res.Available = int64(len(raw))
	o.logf("stage=facts strategy=range start=%s end=%s available=%d",
		res.Start.Format(model.DateLayout), res.End.Format(model.DateLayout), len(raw))
	if len(raw) == 0 {
		return res, nil
	}

	maps, err := o.Loader.KeyMaps(ctx)
	if err != nil {
		return res, err
	}
	err = o.loadBatch(ctx, &res, raw, maps)
	return res, err
}

func (o *Orchestrator) loadBatch(ctx context.Context, res *FactsResult, raw []model.RawSale, maps *load.KeyMaps) error {
	sales := o.Transformer.Sales(raw)
	r, err := o.Loader.LoadSales(ctx, sales, maps)
	res.Extracted += len(raw)
	res.SalesResult.Add(r)
	if err != nil {
		return err
	}
	res.Batches++
	o.Run.AddBatch()
	metrics.RecordBatch()

	progress := 100.0
	if res.Available > 0 {
		progress = min(100, float64(res.Extracted)/float64(res.Available)*100)
	}
	o.logf("stage=facts batch=%d rows=%d loaded=%d skipped=%d progress=%.1f%%",
		res.Batches, len(raw), r.Loaded, r.Skipped, progress)
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
