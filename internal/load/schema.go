package load

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/metrics"
	"salesdw/internal/storage"
)

// Warehouse tables.
const (
	TableProduct       = "dim_producto"
	TableClient        = "dim_cliente"
	TableLocation      = "dim_ubicacion"
	TablePaymentMethod = "dim_medio_pago"
	TableTime          = "dim_tiempo"
	TableSales         = "fact_ventas"
	TableDailySales    = "fact_ventas_diario"
)

// AllTables lists every warehouse table in creation order.
var AllTables = []string{
	TableProduct, TableClient, TableLocation, TablePaymentMethod, TableTime,
	TableSales, TableDailySales,
}

func notNull() *bool { f := false; return &f }

func varchar(name string, n int) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: fmt.Sprintf("varchar(%d)", n)}
}

func col(name, typ string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: typ} }

func required(c storage.ColumnSpec) storage.ColumnSpec {
	c.Nullable = notNull()
	return c
}

func serial(name string) *storage.PrimaryKeySpec {
	return &storage.PrimaryKeySpec{Name: name, Type: "serial"}
}

func unique(cols ...string) []storage.ConstraintSpec {
	return []storage.ConstraintSpec{{Kind: "unique", Columns: cols}}
}

// Tables returns the star schema: five dimensions, the line-level fact table
// and the daily aggregate, with the index set the reports rely on.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		{
			Name:       TableProduct,
			PrimaryKey: serial("producto_key"),
			Columns: []storage.ColumnSpec{
				required(varchar("codigo_producto", 50)),
				required(varchar("nombre_producto", 255)),
				varchar("tipo_producto", 255),
				varchar("unidad_medida", 255),
				col("precio_actual", "numeric(12,2)"),
				col("costo_actual", "numeric(12,2)"),
				col("stock_actual", "int"),
				col("margen_actual", "numeric(9,2)"),
				varchar("categoria_stock", 20),
				varchar("row_hash", 64),
				col("fecha_actualizacion", "timestamp"),
			},
			Constraints: unique("codigo_producto"),
		},
		{
			Name:       TableClient,
			PrimaryKey: serial("cliente_key"),
			Columns: []storage.ColumnSpec{
				required(varchar("id_cliente_original", 50)),
				required(varchar("nombre_cliente", 255)),
				varchar("genero_cliente", 20),
				varchar("tipo_documento", 255),
				varchar("numero_documento", 50),
				varchar("municipio", 255),
				col("edad", "int"),
				varchar("rango_edad", 20),
				varchar("segmento_cliente", 20),
				varchar("email", 255),
				varchar("telefono_principal", 20),
				varchar("direccion", 255),
				col("fecha_primer_compra", "date"),
				col("fecha_ultima_compra", "date"),
				col("total_compras_historico", "numeric(14,2)"),
				col("numero_compras_historico", "int"),
				col("promedio_compra", "numeric(14,2)"),
				varchar("row_hash", 64),
				col("fecha_actualizacion", "timestamp"),
			},
			Constraints: unique("id_cliente_original"),
			Indexes: []storage.IndexSpec{
				{Name: "idx_dim_cliente_segmento", Columns: []string{"segmento_cliente"}},
			},
		},
		{
			Name:       TableLocation,
			PrimaryKey: serial("ubicacion_key"),
			Columns: []storage.ColumnSpec{
				required(varchar("id_municipio_original", 50)),
				required(varchar("nombre_municipio", 255)),
				varchar("departamento", 100),
				varchar("region", 100),
				varchar("zona", 50),
				varchar("row_hash", 64),
				col("fecha_actualizacion", "timestamp"),
			},
			Constraints: unique("id_municipio_original"),
		},
		{
			Name:       TablePaymentMethod,
			PrimaryKey: serial("medio_pago_key"),
			Columns: []storage.ColumnSpec{
				required(varchar("id_medio_pago_original", 50)),
				required(varchar("nombre_medio_pago", 255)),
				varchar("tipo_pago", 50),
				varchar("row_hash", 64),
				col("fecha_actualizacion", "timestamp"),
			},
			Constraints: unique("id_medio_pago_original"),
		},
		{
			Name:       TableTime,
			PrimaryKey: serial("tiempo_key"),
			Columns: []storage.ColumnSpec{
				required(col("fecha", "date")),
				col("anio", "int"),
				col("mes", "int"),
				col("dia", "int"),
				col("dia_semana", "int"),
				varchar("nombre_mes", 20),
				varchar("nombre_dia", 20),
				col("trimestre", "int"),
				col("es_fin_semana", "bool"),
				varchar("row_hash", 64),
			},
			Constraints: unique("fecha"),
		},
		{
			Name:       TableSales,
			PrimaryKey: serial("venta_key"),
			Columns: []storage.ColumnSpec{
				required(col("tiempo_key", "bigint")),
				required(col("producto_key", "bigint")),
				required(col("cliente_key", "bigint")),
				required(col("ubicacion_key", "bigint")),
				col("medio_pago_key", "bigint"),
				required(varchar("numero_venta_original", 50)),
				required(varchar("codigo_producto_original", 50)),
				varchar("id_cliente_original", 50),
				col("cantidad_vendida", "int"),
				col("precio_unitario", "numeric(12,2)"),
				col("costo_unitario", "numeric(12,2)"),
				col("subtotal", "numeric(14,2)"),
				col("descuento", "numeric(14,2)"),
				col("total_linea", "numeric(14,2)"),
				col("utilidad_linea", "numeric(14,2)"),
				col("margen_linea", "numeric(9,2)"),
				varchar("tipo_venta", 50),
				col("fecha_venta_original", "timestamp"),
			},
			Constraints: unique("numero_venta_original", "codigo_producto_original"),
			Indexes: []storage.IndexSpec{
				{Name: "idx_fact_ventas_tiempo", Columns: []string{"tiempo_key"}},
				{Name: "idx_fact_ventas_producto", Columns: []string{"producto_key"}},
				{Name: "idx_fact_ventas_cliente", Columns: []string{"cliente_key"}},
				{Name: "idx_fact_ventas_ubicacion", Columns: []string{"ubicacion_key"}},
				{Name: "idx_fact_ventas_fecha", Columns: []string{"fecha_venta_original"}},
			},
		},
		{
			Name:       TableDailySales,
			PrimaryKey: &storage.PrimaryKeySpec{Type: "composite", Columns: []string{"tiempo_key", "ubicacion_key"}},
			Columns: []storage.ColumnSpec{
				required(col("tiempo_key", "bigint")),
				required(col("ubicacion_key", "bigint")),
				col("total_ventas", "numeric(14,2)"),
				col("total_cantidad_productos", "bigint"),
				col("total_utilidad", "numeric(14,2)"),
				col("numero_transacciones", "int"),
				col("numero_clientes_unicos", "int"),
				col("ticket_promedio", "numeric(14,2)"),
				col("fecha_actualizacion", "timestamp"),
			},
		},
	}
}

// EnsureSchema creates missing warehouse tables and indexes. Objects that
// already exist are counted, never altered.
func (l *Loader) EnsureSchema(ctx context.Context) (storage.EnsureResult, error) {
	ctx, cancel := l.opContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := l.Warehouse.EnsureTables(ctx, Tables())
	metrics.RecordStep("ensure_schema", err, time.Since(start))
	if err != nil {
		return res, fmt.Errorf("ensure schema: %w", err)
	}
	l.logf("stage=ddl tables=%d indexes_created=%d indexes_existing=%d durMS=%d",
		res.Tables, res.IndexesCreated, res.IndexesExisting, time.Since(start).Milliseconds())
	return res, nil
}
