package pricing

import (
	"errors"
	"testing"

	"github.com/avoronin/dealermarket-system/internal/model"
)

func testVariant() *model.Variant {
	return &model.Variant{
		ID:             1,
		ProductID:      10,
		SKU:            "SOFA-GREY-3",
		UnitPriceCents: 100000,
		StockQuantity:  50,
		TrackStock:     true,
	}
}

func TestPriceLine_GoldenScenario(t *testing.T) {
	in := LineInput{
		Variant:  testVariant(),
		Quantity: 10,
		Options: []model.OptionValue{
			{ID: 1, ProductID: 10, Label: "assembly", Mode: model.ChargeModeFlat, PriceCents: 17500},
			{ID: 2, ProductID: 10, Label: "fabric protection", Mode: model.ChargeModePerUnit, PriceCents: 500},
		},
		Discount: &model.DealerDiscount{AccountID: 7, ProductID: 10, DiscountPercent: 10, Active: true},
		TaxRate:  0.2,
	}

	b, err := PriceLine(in)
	if err != nil {
		t.Fatalf("PriceLine error: %v", err)
	}

	if b.SubtotalCents != 1000000 {
		t.Fatalf("subtotal = %d, want 1000000", b.SubtotalCents)
	}
	if b.DiscountCents != 100000 {
		t.Fatalf("discount = %d, want 100000", b.DiscountCents)
	}
	if b.AfterDiscountCents != 900000 {
		t.Fatalf("after discount = %d, want 900000", b.AfterDiscountCents)
	}
	if b.OptionsCents != 22500 {
		t.Fatalf("options = %d, want 22500", b.OptionsCents)
	}
	if b.TaxableCents != 922500 {
		t.Fatalf("taxable = %d, want 922500", b.TaxableCents)
	}
	if b.TaxCents != 184500 {
		t.Fatalf("tax = %d, want 184500", b.TaxCents)
	}
	if b.TotalCents != 1107000 {
		t.Fatalf("total = %d, want 1107000", b.TotalCents)
	}
	if len(b.Steps) == 0 {
		t.Fatalf("breakdown steps must not be empty")
	}
}

func TestPriceLine_FlatOptionAppliedOnce(t *testing.T) {
	opt := model.OptionValue{ID: 1, ProductID: 10, Label: "engraving", Mode: model.ChargeModeFlat, PriceCents: 300}

	for _, qty := range []int64{1, 2, 17} {
		b, err := PriceLine(LineInput{
			Variant:  testVariant(),
			Quantity: qty,
			Options:  []model.OptionValue{opt},
		})
		if err != nil {
			t.Fatalf("PriceLine(qty=%d) error: %v", qty, err)
		}
		if b.OptionsCents != 300 {
			t.Fatalf("flat option with qty=%d contributed %d, want 300", qty, b.OptionsCents)
		}
	}
}

func TestPriceLine_PerUnitOptionScalesLinearly(t *testing.T) {
	opt := model.OptionValue{ID: 1, ProductID: 10, Label: "gift wrap", Mode: model.ChargeModePerUnit, PriceCents: 250}

	for _, qty := range []int64{1, 2, 17} {
		b, err := PriceLine(LineInput{
			Variant:  testVariant(),
			Quantity: qty,
			Options:  []model.OptionValue{opt},
		})
		if err != nil {
			t.Fatalf("PriceLine(qty=%d) error: %v", qty, err)
		}
		if b.OptionsCents != 250*qty {
			t.Fatalf("per-unit option with qty=%d contributed %d, want %d", qty, b.OptionsCents, 250*qty)
		}
	}
}

func TestPriceLine_InactiveDiscountIgnored(t *testing.T) {
	b, err := PriceLine(LineInput{
		Variant:  testVariant(),
		Quantity: 2,
		Discount: &model.DealerDiscount{AccountID: 7, ProductID: 10, DiscountPercent: 50, Active: false},
	})
	if err != nil {
		t.Fatalf("PriceLine error: %v", err)
	}
	if b.DiscountCents != 0 {
		t.Fatalf("inactive discount applied: %d", b.DiscountCents)
	}
}

func TestPriceLine_DiscountRounding(t *testing.T) {
	v := testVariant()
	v.UnitPriceCents = 101

	// 101 * 12.5% = 12.625 -> 13 (половины от нуля).
	b, err := PriceLine(LineInput{
		Variant:  v,
		Quantity: 1,
		Discount: &model.DealerDiscount{AccountID: 7, ProductID: 10, DiscountPercent: 12.5, Active: true},
	})
	if err != nil {
		t.Fatalf("PriceLine error: %v", err)
	}
	if b.DiscountCents != 13 {
		t.Fatalf("discount = %d, want 13", b.DiscountCents)
	}
}

func TestPriceLine_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   LineInput
	}{
		{
			name: "missing variant",
			in:   LineInput{Quantity: 1},
		},
		{
			name: "zero quantity",
			in:   LineInput{Variant: testVariant(), Quantity: 0},
		},
		{
			name: "negative quantity",
			in:   LineInput{Variant: testVariant(), Quantity: -3},
		},
		{
			name: "tax rate above one",
			in:   LineInput{Variant: testVariant(), Quantity: 1, TaxRate: 1.2},
		},
		{
			name: "negative tax rate",
			in:   LineInput{Variant: testVariant(), Quantity: 1, TaxRate: -0.1},
		},
		{
			name: "option from another product",
			in: LineInput{
				Variant:  testVariant(),
				Quantity: 1,
				Options:  []model.OptionValue{{ID: 5, ProductID: 99, Mode: model.ChargeModeFlat}},
			},
		},
		{
			name: "unknown charge mode",
			in: LineInput{
				Variant:  testVariant(),
				Quantity: 1,
				Options:  []model.OptionValue{{ID: 5, ProductID: 10, Mode: "weekly"}},
			},
		},
		{
			name: "discount percent above 100",
			in: LineInput{
				Variant:  testVariant(),
				Quantity: 1,
				Discount: &model.DealerDiscount{ProductID: 10, DiscountPercent: 150, Active: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PriceLine(tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
