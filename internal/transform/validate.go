package transform

import (
	"errors"

	"salesdw/internal/model"
)

// Record kinds accepted by Validate.
const (
	KindProducts       = "products"
	KindClients        = "clients"
	KindLocations      = "locations"
	KindPaymentMethods = "payment_methods"
	KindSales          = "sales"
)

// Validation is the outcome of a pre-load sanity check. Rate is the valid
// share in percent.
type Validation struct {
	Kind    string  `json:"kind"`
	Total   int     `json:"total"`
	Valid   int     `json:"valid"`
	Invalid int     `json:"invalid"`
	Rate    float64 `json:"rate"`
}

// Validate classifies each record of batch with rule. It only counts: batch
// is never modified.
func Validate[T any](kind string, batch []T, rule func(T) error) Validation {
	v := Validation{Kind: kind, Total: len(batch)}
	for _, r := range batch {
		if rule(r) != nil {
			v.Invalid++
			continue
		}
		v.Valid++
	}
	if v.Total > 0 {
		v.Rate = Round2(float64(v.Valid) / float64(v.Total) * 100)
	}
	return v
}

func ValidateProducts(b []model.Product) Validation {
	return Validate(KindProducts, b, func(p model.Product) error {
		return errors.Join(required("codigo_producto", p.Code), required("nombre_producto", p.Name))
	})
}

func ValidateClients(b []model.Client) Validation {
	return Validate(KindClients, b, func(c model.Client) error {
		return errors.Join(required("id_cliente", c.ID), required("nombre_cliente", c.Name))
	})
}

func ValidateLocations(b []model.Location) Validation {
	return Validate(KindLocations, b, func(l model.Location) error { return required("id_municipio", l.ID) })
}

func ValidatePaymentMethods(b []model.PaymentMethod) Validation {
	return Validate(KindPaymentMethods, b, func(m model.PaymentMethod) error { return required("id_medio_pago", m.ID) })
}

func ValidateSales(b []model.Sale) Validation {
	return Validate(KindSales, b, func(s model.Sale) error {
		return errors.Join(required("numero_venta", s.SaleNumber), required("codigo_producto", s.ProductCode))
	})
}
