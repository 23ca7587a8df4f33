// Package probe profiles an operational store without writing anything.
//
// It extracts the dimension snapshots and the newest page of sale lines, runs
// them through the transformer and reports how the rows would fare in a load:
// rejected rows, validation rates, and sale lines whose product, client,
// location or payment method has no dimension row (those would be skipped as
// unresolved). The profile also seeds a starter pipeline config.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/extract"
	"salesdw/internal/model"
	"salesdw/internal/stats"
	"salesdw/internal/storage"
	"salesdw/internal/transform"
)

// Logger is the Printf-style sink shared with the pipeline packages.
type Logger interface {
	Printf(format string, v ...any)
}

const DefaultSampleSize = 1000

type Options struct {
	// SampleSize is the number of newest sale lines profiled.
	SampleSize int
	Timeout    time.Duration
	Now        func() time.Time
}

// Dimension profiles one dimension snapshot.
type Dimension struct {
	transform.Validation
	Extracted int `json:"extracted"`
	Rejected  int `json:"rejected"`
}

// Sales profiles the sampled sale lines.
type Sales struct {
	Total      int64                `json:"total"`
	Sampled    int                  `json:"sampled"`
	Rejected   int                  `json:"rejected"`
	Validation transform.Validation `json:"validation"`
	// Orphans counts sampled lines per reference kind whose natural key is
	// absent from the extracted dimension.
	Orphans   map[string]int `json:"orphans,omitempty"`
	FirstDate time.Time      `json:"first_date,omitzero"`
	LastDate  time.Time      `json:"last_date,omitzero"`
	Revenue   float64        `json:"revenue"`
}

// Report is the outcome of Profile.
type Report struct {
	Dimensions []Dimension    `json:"dimensions"`
	Sales      Sales          `json:"sales"`
	Stats      stats.Snapshot `json:"stats"`
	DurationMS int64          `json:"duration_ms"`
}

// keySet is the set of natural keys one dimension would load.
type keySet map[string]struct{}

func keysOf[T interface{ NaturalKey() string }](rows []T) keySet {
	s := make(keySet, len(rows))
	for _, r := range rows {
		s[r.NaturalKey()] = struct{}{}
	}
	return s
}

func (s keySet) has(k string) bool {
	_, ok := s[k]
	return ok
}

func profileDim[T any](extracted int, rows []T, validate func([]T) transform.Validation) Dimension {
	return Dimension{Validation: validate(rows), Extracted: extracted, Rejected: extracted - len(rows)}
}

// Profile reads src and returns its load profile. Extraction errors are
// returned; record-level problems are counted.
func Profile(ctx context.Context, src storage.Source, opts Options, log Logger) (*Report, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	size := opts.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	start := now()
	run := stats.New(start)
	ext := &extract.Extractor{Source: src, Run: run, Logger: log, Timeout: opts.Timeout, Now: now}
	tr := transform.New(run, log)

	rep := &Report{}

	rawProducts, err := ext.ExtractProducts(ctx)
	if err != nil {
		return nil, err
	}
	products := tr.Products(rawProducts)
	rep.Dimensions = append(rep.Dimensions, profileDim(len(rawProducts), products, transform.ValidateProducts))

	rawClients, err := ext.ExtractClients(ctx)
	if err != nil {
		return nil, err
	}
	clients := tr.Clients(rawClients)
	rep.Dimensions = append(rep.Dimensions, profileDim(len(rawClients), clients, transform.ValidateClients))

	rawLocations, err := ext.ExtractLocations(ctx)
	if err != nil {
		return nil, err
	}
	locations := tr.Locations(rawLocations)
	rep.Dimensions = append(rep.Dimensions, profileDim(len(rawLocations), locations, transform.ValidateLocations))

	rawPayments, err := ext.ExtractPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	payments := tr.PaymentMethods(rawPayments)
	rep.Dimensions = append(rep.Dimensions, profileDim(len(rawPayments), payments, transform.ValidatePaymentMethods))

	total, err := ext.TotalSalesCount(ctx)
	if err != nil {
		return nil, err
	}
	rawSales, err := ext.ExtractSales(ctx, size, 0)
	if err != nil {
		return nil, err
	}
	sales := tr.Sales(rawSales)

	rep.Sales = Sales{
		Total:      total,
		Sampled:    len(rawSales),
		Rejected:   len(rawSales) - len(sales),
		Validation: transform.ValidateSales(sales),
	}
	refs := map[string]keySet{
		"producto":   keysOf(products),
		"cliente":    keysOf(clients),
		"ubicacion":  keysOf(locations),
		"medio_pago": keysOf(payments),
	}
	profileSales(&rep.Sales, sales, refs)

	rep.Stats = run.Snapshot()
	rep.DurationMS = now().Sub(start).Milliseconds()
	if log != nil {
		log.Printf("stage=probe sampled=%d rejected=%d orphans=%d durMS=%d",
			rep.Sales.Sampled, rep.Sales.Rejected, rep.Sales.orphanTotal(), rep.DurationMS)
	}
	return rep, nil
}

func profileSales(s *Sales, sales []model.Sale, refs map[string]keySet) {
	var revenue float64
	for _, sale := range sales {
		check := map[string]string{
			"producto":  sale.ProductCode,
			"cliente":   sale.ClientID,
			"ubicacion": sale.LocationID,
		}
		// A sale without payment loads with a NULL key; only a dangling
		// reference counts.
		if sale.PaymentMethodID != "" {
			check["medio_pago"] = sale.PaymentMethodID
		}
		for kind, key := range check {
			if !refs[kind].has(key) {
				if s.Orphans == nil {
					s.Orphans = make(map[string]int)
				}
				s.Orphans[kind]++
			}
		}

		if !sale.SaleDate.IsZero() {
			if s.FirstDate.IsZero() || sale.SaleDate.Before(s.FirstDate) {
				s.FirstDate = sale.SaleDate
			}
			if sale.SaleDate.After(s.LastDate) {
				s.LastDate = sale.SaleDate
			}
		}
		revenue += sale.Total
	}
	s.Revenue = transform.Round2(revenue)
}

func (s Sales) orphanTotal() int {
	n := 0
	for _, v := range s.Orphans {
		n += v
	}
	return n
}

// Text renders the profile as an aligned plain-text table.
func (r *Report) Text() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "kind\textracted\trejected\tvalid\tinvalid\trate")
	for _, d := range r.Dimensions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\n", d.Kind, d.Extracted, d.Rejected, d.Valid, d.Invalid, d.Rate)
	}
	v := r.Sales.Validation
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\n", v.Kind, r.Sales.Sampled, r.Sales.Rejected, v.Valid, v.Invalid, v.Rate)
	_ = tw.Flush()

	fmt.Fprintf(&b, "sales: total=%d sampled=%d revenue=%.2f", r.Sales.Total, r.Sales.Sampled, r.Sales.Revenue)
	if !r.Sales.FirstDate.IsZero() {
		fmt.Fprintf(&b, " range=%s..%s", r.Sales.FirstDate.Format(model.DateLayout), r.Sales.LastDate.Format(model.DateLayout))
	}
	b.WriteByte('\n')

	if len(r.Sales.Orphans) == 0 {
		b.WriteString("orphans: none\n")
		return b.String()
	}
	kinds := make([]string, 0, len(r.Sales.Orphans))
	for k := range r.Sales.Orphans {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	b.WriteString("orphans:")
	for _, k := range kinds {
		fmt.Fprintf(&b, " %s=%d", k, r.Sales.Orphans[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// Pipeline builds a starter config for cmd/etl. The calendar spans whole
// years around the sampled sale dates so every sampled line resolves a time
// key.
func (r *Report) Pipeline(job string, source, warehouse config.Database) config.Pipeline {
	p := config.Pipeline{
		Job:       job,
		Source:    source,
		Warehouse: warehouse,
		Runtime: config.Runtime{
			BatchSize:            config.DefaultBatchSize,
			IncrementalBatchSize: config.DefaultIncrementalSize,
			InsertChunk:          config.DefaultInsertChunk,
			TimeoutSeconds:       int(config.DefaultTimeout / time.Second),
			EnsureSchema:         true,
		},
		Report:  config.Report{Sink: "stdout"},
		Logging: config.Logging{Level: "info", Format: "json"},
	}
	if first, last := r.Sales.FirstDate, r.Sales.LastDate; !first.IsZero() {
		p.Calendar = config.Calendar{
			From: time.Date(first.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Format(model.DateLayout),
			To:   time.Date(last.Year(), time.December, 31, 0, 0, 0, 0, time.UTC).Format(model.DateLayout),
		}
	}
	return p
}
