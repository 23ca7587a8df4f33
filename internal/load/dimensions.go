package load

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/metrics"
	"salesdw/internal/model"
	"salesdw/internal/storage"
)

// DimResult classifies one dimension load against the warehouse state
// before the load.
type DimResult struct {
	Table     string `json:"table"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

// Written is the number of rows the upsert touched.
func (r DimResult) Written() int { return r.Inserted + r.Updated }

// dimension describes how one record type maps onto its table. columns lists
// the data columns in the order values returns them; row_hash and, when
// stamped, fecha_actualizacion are appended by loadDimension.
type dimension[T any] struct {
	table   string
	natural string
	columns []string
	stamped bool
	key     func(T) string
	hash    func(T) string
	values  func(T) []any
}

var productDim = dimension[model.Product]{
	table:   TableProduct,
	natural: "codigo_producto",
	columns: []string{
		"codigo_producto", "nombre_producto", "tipo_producto", "unidad_medida",
		"precio_actual", "costo_actual", "stock_actual", "margen_actual", "categoria_stock",
	},
	stamped: true,
	key:     model.Product.NaturalKey,
	hash:    func(p model.Product) string { return p.RowHash },
	values: func(p model.Product) []any {
		return []any{p.Code, p.Name, p.Type, p.Unit, p.Price, p.Cost, p.Stock, p.Margin, p.StockCategory}
	},
}

// clientDim leaves the purchase statistics columns alone; they belong to
// UpdateClientStatistics.
var clientDim = dimension[model.Client]{
	table:   TableClient,
	natural: "id_cliente_original",
	columns: []string{
		"id_cliente_original", "nombre_cliente", "genero_cliente", "tipo_documento",
		"numero_documento", "municipio", "edad", "rango_edad", "segmento_cliente",
		"email", "telefono_principal", "direccion",
	},
	stamped: true,
	key:     model.Client.NaturalKey,
	hash:    func(c model.Client) string { return c.RowHash },
	values: func(c model.Client) []any {
		return []any{
			c.ID, c.Name, c.Gender, c.DocType, c.DocNumber, c.Municipality,
			nullInt(c.Age), c.AgeBracket, c.Segment,
			nullString(c.Email), nullString(c.Phone), c.Address,
		}
	},
}

var locationDim = dimension[model.Location]{
	table:   TableLocation,
	natural: "id_municipio_original",
	columns: []string{"id_municipio_original", "nombre_municipio", "departamento", "region", "zona"},
	stamped: true,
	key:     model.Location.NaturalKey,
	hash:    func(l model.Location) string { return l.RowHash },
	values: func(l model.Location) []any {
		return []any{l.ID, l.Name, l.Department, l.Region, l.Zone}
	},
}

var paymentDim = dimension[model.PaymentMethod]{
	table:   TablePaymentMethod,
	natural: "id_medio_pago_original",
	columns: []string{"id_medio_pago_original", "nombre_medio_pago", "tipo_pago"},
	stamped: true,
	key:     model.PaymentMethod.NaturalKey,
	hash:    func(m model.PaymentMethod) string { return m.RowHash },
	values: func(m model.PaymentMethod) []any {
		return []any{m.ID, m.Name, m.Type}
	},
}

var timeDim = dimension[model.Day]{
	table:   TableTime,
	natural: "fecha",
	columns: []string{
		"fecha", "anio", "mes", "dia", "dia_semana", "nombre_mes", "nombre_dia", "trimestre", "es_fin_semana",
	},
	key:  model.Day.NaturalKey,
	hash: func(d model.Day) string { return d.RowHash },
	values: func(d model.Day) []any {
		return []any{d.Date, d.Year, d.Month, d.Day, d.Weekday, d.MonthName, d.WeekdayName, d.Quarter, d.Weekend}
	},
}

func (l *Loader) LoadProducts(ctx context.Context, rows []model.Product) (DimResult, error) {
	return loadDimension(ctx, l, productDim, rows)
}

func (l *Loader) LoadClients(ctx context.Context, rows []model.Client) (DimResult, error) {
	return loadDimension(ctx, l, clientDim, rows)
}

func (l *Loader) LoadLocations(ctx context.Context, rows []model.Location) (DimResult, error) {
	return loadDimension(ctx, l, locationDim, rows)
}

func (l *Loader) LoadPaymentMethods(ctx context.Context, rows []model.PaymentMethod) (DimResult, error) {
	return loadDimension(ctx, l, paymentDim, rows)
}

// LoadCalendar upserts time dimension days by date.
func (l *Loader) LoadCalendar(ctx context.Context, days []model.Day) (DimResult, error) {
	return loadDimension(ctx, l, timeDim, days)
}

// loadDimension upserts rows by natural key. Only inserted and updated rows
// are written, so fecha_actualizacion moves only when content changes.
// Repeated keys in rows collapse to the last occurrence.
func loadDimension[T any](ctx context.Context, l *Loader, d dimension[T], rows []T) (DimResult, error) {
	start := time.Now()
	res := DimResult{Table: d.table}
	if len(rows) == 0 {
		l.logf("stage=load table=%s rows=0", d.table)
		return res, nil
	}

	unique, collapsed := collapse(rows, d.key)

	snapCtx, cancel := l.opContext(ctx)
	current, err := l.Warehouse.SelectAllKeyText(snapCtx, d.table, d.natural, "row_hash")
	cancel()
	if err != nil {
		metrics.RecordStep("load_"+d.table, err, time.Since(start))
		return res, fmt.Errorf("load %s: snapshot: %w", d.table, err)
	}

	cols := append(append([]string{}, d.columns...), "row_hash")
	if d.stamped {
		cols = append(cols, "fecha_actualizacion")
	}
	stamp := l.now().UTC().Truncate(time.Second)

	changed := make([][]any, 0, len(unique))
	for _, r := range unique {
		h := d.hash(r)
		prev, ok := current[d.key(r)]
		switch {
		case !ok:
			res.Inserted++
		case prev != h:
			res.Updated++
		default:
			res.Unchanged++
			continue
		}
		vals := append(d.values(r), h)
		if d.stamped {
			vals = append(vals, stamp)
		}
		changed = append(changed, vals)
	}

	for _, chunk := range storage.Chunk(changed, l.insertChunk()) {
		opCtx, cancel := l.opContext(ctx)
		_, err := l.Warehouse.UpsertRows(opCtx, d.table, cols, chunk, []string{d.natural})
		cancel()
		if err != nil {
			metrics.RecordStep("load_"+d.table, err, time.Since(start))
			l.logf("stage=load table=%s err=%v", d.table, err)
			return res, fmt.Errorf("load %s: upsert: %w", d.table, err)
		}
	}

	l.stats().AddUpserted(d.table, res.Inserted, res.Updated, res.Unchanged)
	metrics.RecordRows(d.table, metrics.OutcomeInserted, res.Inserted)
	metrics.RecordRows(d.table, metrics.OutcomeUpdated, res.Updated)
	metrics.RecordRows(d.table, metrics.OutcomeUnchanged, res.Unchanged)
	metrics.RecordStep("load_"+d.table, nil, time.Since(start))

	l.logf("stage=load table=%s rows=%d collapsed=%d inserted=%d updated=%d unchanged=%d durMS=%d",
		d.table, len(rows), collapsed, res.Inserted, res.Updated, res.Unchanged, time.Since(start).Milliseconds())
	return res, nil
}

// collapse keeps the last row per non-empty key, in first-seen key order.
// It returns the kept rows and how many inputs were dropped.
func collapse[T any](rows []T, key func(T) string) ([]T, int) {
	idx := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if k == "" {
			continue
		}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}
