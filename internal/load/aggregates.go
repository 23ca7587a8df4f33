package load

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/metrics"
)

// clientStatisticsSQL recomputes purchase history for every client with at
// least one fact. UPDATE ... FROM runs on Postgres and SQLite 3.33+.
const clientStatisticsSQL = `UPDATE dim_cliente SET
  fecha_primer_compra = s.primera,
  fecha_ultima_compra = s.ultima,
  total_compras_historico = s.total,
  numero_compras_historico = s.compras,
  promedio_compra = ROUND(s.total / s.compras, 2)
FROM (
  SELECT cliente_key,
         MIN(DATE(fecha_venta_original)) AS primera,
         MAX(DATE(fecha_venta_original)) AS ultima,
         SUM(total_linea) AS total,
         COUNT(DISTINCT numero_venta_original) AS compras
  FROM fact_ventas
  GROUP BY cliente_key
) AS s
WHERE dim_cliente.cliente_key = s.cliente_key`

const deleteDailySalesSQL = `DELETE FROM fact_ventas_diario`

// dailySalesSQL rebuilds the aggregate. ticket_promedio is revenue per
// distinct sale, not per line.
const dailySalesSQL = `INSERT INTO fact_ventas_diario (
  tiempo_key, ubicacion_key, total_ventas, total_cantidad_productos, total_utilidad,
  numero_transacciones, numero_clientes_unicos, ticket_promedio, fecha_actualizacion
)
SELECT tiempo_key,
       ubicacion_key,
       SUM(total_linea),
       SUM(cantidad_vendida),
       SUM(utilidad_linea),
       COUNT(DISTINCT numero_venta_original),
       COUNT(DISTINCT cliente_key),
       ROUND(SUM(total_linea) / COUNT(DISTINCT numero_venta_original), 2),
       CURRENT_TIMESTAMP
FROM fact_ventas
GROUP BY tiempo_key, ubicacion_key`

// UpdateClientStatistics recomputes first and last purchase date, lifetime
// total, distinct purchase count and average purchase for every client
// present in fact_ventas. It returns the number of clients updated.
func (l *Loader) UpdateClientStatistics(ctx context.Context) (int64, error) {
	start := time.Now()
	opCtx, cancel := l.opContext(ctx)
	defer cancel()

	n, err := l.Warehouse.Exec(opCtx, clientStatisticsSQL)
	metrics.RecordStep("client_statistics", err, time.Since(start))
	if err != nil {
		l.logf("stage=client_stats err=%v", err)
		return 0, fmt.Errorf("update client statistics: %w", err)
	}
	metrics.RecordRows(TableClient, metrics.OutcomeUpdated, int(n))
	l.logf("stage=client_stats clients=%d durMS=%d", n, time.Since(start).Milliseconds())
	return n, nil
}

// RefreshDailySales deletes and rebuilds fact_ventas_diario from
// fact_ventas, one row per (day, location). It returns the rows written.
func (l *Loader) RefreshDailySales(ctx context.Context) (int64, error) {
	start := time.Now()
	opCtx, cancel := l.opContext(ctx)
	defer cancel()

	fail := func(what string, err error) (int64, error) {
		metrics.RecordStep("daily_sales", err, time.Since(start))
		l.logf("stage=daily_sales step=%s err=%v", what, err)
		return 0, fmt.Errorf("refresh daily sales: %s: %w", what, err)
	}
	if _, err := l.Warehouse.Exec(opCtx, deleteDailySalesSQL); err != nil {
		return fail("delete", err)
	}
	n, err := l.Warehouse.Exec(opCtx, dailySalesSQL)
	if err != nil {
		return fail("insert", err)
	}

	metrics.RecordStep("daily_sales", nil, time.Since(start))
	metrics.RecordRows(TableDailySales, metrics.OutcomeInserted, int(n))
	l.stats().AddLoaded(TableDailySales, int(n))
	l.logf("stage=daily_sales rows=%d durMS=%d", n, time.Since(start).Milliseconds())
	return n, nil
}
