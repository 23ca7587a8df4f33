package transform

import (
	"testing"

	"salesdw/internal/model"
)

func TestValidate_CountsWithoutMutating(t *testing.T) {
	t.Parallel()

	batch := []model.Sale{
		{SaleNumber: "S1", ProductCode: "P1"},
		{SaleNumber: "S2"},
		{ProductCode: "P3"},
		{SaleNumber: "S4", ProductCode: "P4"},
	}
	before := append([]model.Sale(nil), batch...)

	v := ValidateSales(batch)
	if v.Kind != KindSales || v.Total != 4 || v.Valid != 2 || v.Invalid != 2 || v.Rate != 50 {
		t.Fatalf("validation=%+v", v)
	}
	for i := range batch {
		if batch[i] != before[i] {
			t.Fatalf("batch mutated at %d", i)
		}
	}
}

func TestValidate_PerKindRules(t *testing.T) {
	t.Parallel()

	if v := ValidateProducts([]model.Product{{Code: "P1"}, {Code: "P2", Name: "x"}}); v.Valid != 1 {
		t.Fatalf("products=%+v", v)
	}
	if v := ValidateClients([]model.Client{{ID: "C1", Name: "Ana"}}); v.Valid != 1 || v.Rate != 100 {
		t.Fatalf("clients=%+v", v)
	}
	if v := ValidateLocations([]model.Location{{Name: "x"}}); v.Invalid != 1 {
		t.Fatalf("locations=%+v", v)
	}
	if v := ValidatePaymentMethods(nil); v.Total != 0 || v.Rate != 0 {
		t.Fatalf("empty=%+v", v)
	}
}
