package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salesdw/internal/metrics"
	"salesdw/internal/model"
	"salesdw/internal/storage"
)

// SalesResult counts what happened to one batch of sale lines. Skipped is
// Existing + Unresolved + Duplicates.
type SalesResult struct {
	Loaded     int `json:"loaded"`
	Skipped    int `json:"skipped"`
	Existing   int `json:"existing"`
	Unresolved int `json:"unresolved"`
	Duplicates int `json:"duplicates"`
}

// Add accumulates o into r.
func (r *SalesResult) Add(o SalesResult) {
	r.Loaded += o.Loaded
	r.Skipped += o.Skipped
	r.Existing += o.Existing
	r.Unresolved += o.Unresolved
	r.Duplicates += o.Duplicates
}

var factNaturalKey = []string{"numero_venta_original", "codigo_producto_original"}

var factColumns = []string{
	"tiempo_key", "producto_key", "cliente_key", "ubicacion_key", "medio_pago_key",
	"numero_venta_original", "codigo_producto_original", "id_cliente_original",
	"cantidad_vendida", "precio_unitario", "costo_unitario", "subtotal", "descuento",
	"total_linea", "utilidad_linea", "margen_linea", "tipo_venta", "fecha_venta_original",
}

func factValues(r model.FactRow) []any {
	var payment any
	if r.PaymentMethodKey.Valid {
		payment = r.PaymentMethodKey.Int64
	}
	return []any{
		r.TimeKey, r.ProductKey, r.ClientKey, r.LocationKey, payment,
		r.SaleNumber, r.ProductCode, r.ClientID,
		r.Quantity, r.UnitPrice, r.UnitCost, r.Subtotal, r.Discount,
		r.Total, r.Profit, r.Margin, r.SaleType, nullTime(r.SaleDate),
	}
}

// LoadSales inserts sale lines not yet present in fact_ventas. maps is built
// from the warehouse when nil. Lines already loaded, repeated within rows or
// with an unresolved required dimension are skipped and counted; an INSERT
// failure aborts the batch.
func (l *Loader) LoadSales(ctx context.Context, rows []model.Sale, maps *KeyMaps) (SalesResult, error) {
	start := time.Now()
	var res SalesResult
	if len(rows) == 0 {
		return res, nil
	}
	if maps == nil {
		var err error
		if maps, err = l.KeyMaps(ctx); err != nil {
			return res, fmt.Errorf("load %s: %w", TableSales, err)
		}
	}

	existing, err := l.existingSaleKeys(ctx, rows)
	if err != nil {
		metrics.RecordStep("load_"+TableSales, err, time.Since(start))
		return res, fmt.Errorf("load %s: existing keys: %w", TableSales, err)
	}

	seen := make(map[model.SaleKey]struct{}, len(rows))
	queue := make([][]any, 0, len(rows))
	for _, s := range rows {
		k := s.Key()
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}

		if _, ok := existing[storage.CompositeKey(s.SaleNumber, s.ProductCode)]; ok {
			res.Existing++
			continue
		}
		row, how := ResolveDimensionKeys(s, maps)
		if !how.OK() {
			res.Unresolved++
			l.logf("stage=load table=%s action=skip sale=%q product=%q unresolved=%s",
				TableSales, s.SaleNumber, s.ProductCode, strings.Join(how.Unresolved(), ","))
			continue
		}
		queue = append(queue, factValues(row))
	}

	for _, chunk := range storage.Chunk(queue, l.insertChunk()) {
		opCtx, cancel := l.opContext(ctx)
		n, err := l.Warehouse.InsertFactRows(opCtx, TableSales, factColumns, chunk, factNaturalKey)
		cancel()
		if err != nil {
			res = l.record(res)
			metrics.RecordStep("load_"+TableSales, err, time.Since(start))
			l.logf("stage=load table=%s loaded=%d err=%v", TableSales, res.Loaded, err)
			return res, fmt.Errorf("load %s: insert: %w", TableSales, err)
		}
		res.Loaded += int(n)
		// Rows the conflict clause swallowed were written by someone else
		// after the existing-key read.
		res.Existing += len(chunk) - int(n)
	}

	res = l.record(res)
	metrics.RecordStep("load_"+TableSales, nil, time.Since(start))
	l.logf("stage=load table=%s rows=%d loaded=%d existing=%d unresolved=%d duplicates=%d durMS=%d",
		TableSales, len(rows), res.Loaded, res.Existing, res.Unresolved, res.Duplicates, time.Since(start).Milliseconds())
	return res, nil
}

func (l *Loader) record(res SalesResult) SalesResult {
	res.Skipped = res.Existing + res.Unresolved + res.Duplicates
	run := l.stats()
	run.AddLoaded(TableSales, res.Loaded)
	run.AddSkipped(res.Skipped)
	metrics.RecordRows(TableSales, metrics.OutcomeInserted, res.Loaded)
	metrics.RecordRows(TableSales, metrics.OutcomeSkipped, res.Existing+res.Duplicates)
	metrics.RecordRows(TableSales, metrics.OutcomeUnresolved, res.Unresolved)
	return res
}

// existingSaleKeys reads the fact keys already stored for the sale numbers
// in rows.
func (l *Loader) existingSaleKeys(ctx context.Context, rows []model.Sale) (map[string]struct{}, error) {
	numbers := make([]any, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, s := range rows {
		if _, ok := seen[s.SaleNumber]; ok {
			continue
		}
		seen[s.SaleNumber] = struct{}{}
		numbers = append(numbers, s.SaleNumber)
	}

	out := map[string]struct{}{}
	for _, chunk := range storage.Chunk(numbers, l.insertChunk()) {
		opCtx, cancel := l.opContext(ctx)
		keys, err := l.Warehouse.SelectExistingKeys(opCtx, TableSales, factNaturalKey, "numero_venta_original", chunk)
		cancel()
		if err != nil {
			return nil, err
		}
		for k := range keys {
			out[k] = struct{}{}
		}
	}
	return out, nil
}
