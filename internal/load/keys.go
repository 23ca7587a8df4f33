package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salesdw/internal/metrics"
	"salesdw/internal/model"
)

// Status is the outcome of one natural key lookup.
type Status int

const (
	// Missing means the sale carries no natural key for the dimension.
	Missing Status = iota
	// Absent means the natural key is set but the dimension has no such row.
	Absent
	Found
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	default:
		return "missing"
	}
}

// Lookup is a surrogate key with the status that produced it. Key is only
// meaningful when Status is Found.
type Lookup struct {
	Key    int64
	Status Status
}

// KeyMaps holds the natural to surrogate key maps of the five dimensions.
// It is built once per run and read-only afterwards.
type KeyMaps struct {
	time     map[string]int64
	product  map[string]int64
	client   map[string]int64
	location map[string]int64
	payment  map[string]int64
}

// NewKeyMaps builds KeyMaps from already loaded maps. Nil maps are empty.
func NewKeyMaps(days, product, client, location, payment map[string]int64) *KeyMaps {
	orEmpty := func(m map[string]int64) map[string]int64 {
		if m == nil {
			return map[string]int64{}
		}
		return m
	}
	return &KeyMaps{
		time:     orEmpty(days),
		product:  orEmpty(product),
		client:   orEmpty(client),
		location: orEmpty(location),
		payment:  orEmpty(payment),
	}
}

func lookup(m map[string]int64, nk string) Lookup {
	nk = strings.TrimSpace(nk)
	if nk == "" {
		return Lookup{Status: Missing}
	}
	k, ok := m[nk]
	if !ok {
		return Lookup{Status: Absent}
	}
	return Lookup{Key: k, Status: Found}
}

func (m *KeyMaps) Time(date string) Lookup   { return lookup(m.time, date) }
func (m *KeyMaps) Product(code string) Lookup { return lookup(m.product, code) }
func (m *KeyMaps) Client(id string) Lookup    { return lookup(m.client, id) }
func (m *KeyMaps) Location(id string) Lookup  { return lookup(m.location, id) }
func (m *KeyMaps) Payment(id string) Lookup   { return lookup(m.payment, id) }

// Sizes reports the entry count per dimension table.
func (m *KeyMaps) Sizes() map[string]int {
	return map[string]int{
		TableTime:          len(m.time),
		TableProduct:       len(m.product),
		TableClient:        len(m.client),
		TableLocation:      len(m.location),
		TablePaymentMethod: len(m.payment),
	}
}

// KeyMaps reads the five key maps from the current warehouse state.
func (l *Loader) KeyMaps(ctx context.Context) (*KeyMaps, error) {
	start := time.Now()
	read := func(table, natural, surrogate string) (map[string]int64, error) {
		opCtx, cancel := l.opContext(ctx)
		defer cancel()
		m, err := l.Warehouse.SelectAllKeyValue(opCtx, table, natural, surrogate)
		if err != nil {
			return nil, fmt.Errorf("key map %s: %w", table, err)
		}
		return m, nil
	}

	var maps [5]map[string]int64
	specs := [5][3]string{
		{TableTime, "fecha", "tiempo_key"},
		{TableProduct, "codigo_producto", "producto_key"},
		{TableClient, "id_cliente_original", "cliente_key"},
		{TableLocation, "id_municipio_original", "ubicacion_key"},
		{TablePaymentMethod, "id_medio_pago_original", "medio_pago_key"},
	}
	for i, s := range specs {
		m, err := read(s[0], s[1], s[2])
		if err != nil {
			metrics.RecordStep("key_maps", err, time.Since(start))
			l.logf("stage=keymaps table=%s err=%v", s[0], err)
			return nil, err
		}
		maps[i] = m
	}

	km := NewKeyMaps(maps[0], maps[1], maps[2], maps[3], maps[4])
	metrics.RecordStep("key_maps", nil, time.Since(start))
	l.logf("stage=keymaps tiempo=%d producto=%d cliente=%d ubicacion=%d medio_pago=%d durMS=%d",
		len(km.time), len(km.product), len(km.client), len(km.location), len(km.payment), time.Since(start).Milliseconds())
	return km, nil
}

// Resolution records how each dimension of a sale was resolved.
type Resolution struct {
	Time     Lookup
	Product  Lookup
	Client   Lookup
	Location Lookup
	Payment  Lookup
}

// OK reports whether every required dimension was found. Payment is
// optional.
func (r Resolution) OK() bool {
	return r.Time.Status == Found && r.Product.Status == Found &&
		r.Client.Status == Found && r.Location.Status == Found
}

// Unresolved names the required dimensions that were not found, as
// "name:status" pairs.
func (r Resolution) Unresolved() []string {
	var out []string
	for _, d := range []struct {
		name string
		l    Lookup
	}{
		{"tiempo", r.Time}, {"producto", r.Product}, {"cliente", r.Client}, {"ubicacion", r.Location},
	} {
		if d.l.Status != Found {
			out = append(out, d.name+":"+d.l.Status.String())
		}
	}
	return out
}

// ResolveDimensionKeys maps a sale's natural keys to surrogate keys. The
// returned row is only loadable when the Resolution is OK; an absent or
// missing payment method leaves PaymentMethodKey NULL.
func ResolveDimensionKeys(s model.Sale, maps *KeyMaps) (model.FactRow, Resolution) {
	res := Resolution{
		Time:     maps.Time(s.DateKey()),
		Product:  maps.Product(s.ProductCode),
		Client:   maps.Client(s.ClientID),
		Location: maps.Location(s.LocationID),
		Payment:  maps.Payment(s.PaymentMethodID),
	}
	row := model.FactRow{
		Sale:        s,
		TimeKey:     res.Time.Key,
		ProductKey:  res.Product.Key,
		ClientKey:   res.Client.Key,
		LocationKey: res.Location.Key,
	}
	if res.Payment.Status == Found {
		row.PaymentMethodKey.Int64, row.PaymentMethodKey.Valid = res.Payment.Key, true
	}
	return row, res
}
