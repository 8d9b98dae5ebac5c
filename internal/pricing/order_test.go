package pricing

import "testing"

func testParams() Params {
	return Params{
		TaxRate:                          0.2,
		ShippingFeeCents:                 1500,
		FreeShippingThresholdCents:       50000,
		DealerFreeShippingThresholdCents: 20000,
	}
}

type fixedCoupon struct {
	applicable bool
	discount   int64
}

func (c fixedCoupon) Applicable(subtotalCents int64) bool { return c.applicable }

func (c fixedCoupon) CalculateDiscount(amountCents int64) int64 { return c.discount }

func TestComputeTotals_Invariant(t *testing.T) {
	in := OrderInput{
		Lines: []LineTotals{
			{TotalCents: 30000, DiscountPercent: 10},
			{TotalCents: 15000},
		},
		IsDealer: true,
		Params:   testParams(),
	}

	got := ComputeTotals(in)

	if got.TotalCents != got.SubtotalCents-got.DiscountCents+got.ShippingCents+got.TaxCents {
		t.Fatalf("totals invariant broken: %+v", got)
	}
	if got.SubtotalCents != 45000 {
		t.Fatalf("subtotal = %d, want 45000", got.SubtotalCents)
	}
	if got.DiscountCents != 3000 {
		t.Fatalf("discount = %d, want 3000", got.DiscountCents)
	}
}

func TestComputeTotals_Idempotent(t *testing.T) {
	in := OrderInput{
		Lines: []LineTotals{
			{TotalCents: 12345, DiscountPercent: 7.5},
			{TotalCents: 67890, DiscountPercent: 3},
			{TotalCents: 111},
		},
		IsDealer: true,
		Coupon:   fixedCoupon{applicable: true, discount: 500},
		Params:   testParams(),
	}

	first := ComputeTotals(in)
	second := ComputeTotals(in)

	if first != second {
		t.Fatalf("recompute not idempotent: %+v vs %+v", first, second)
	}
}

func TestComputeTotals_DealerDiscountOnlyForDealers(t *testing.T) {
	lines := []LineTotals{{TotalCents: 100000, DiscountPercent: 10}}

	dealer := ComputeTotals(OrderInput{Lines: lines, IsDealer: true, Params: testParams()})
	customer := ComputeTotals(OrderInput{Lines: lines, IsDealer: false, Params: testParams()})

	if dealer.DiscountCents != 10000 {
		t.Fatalf("dealer discount = %d, want 10000", dealer.DiscountCents)
	}
	if customer.DiscountCents != 0 {
		t.Fatalf("customer discount = %d, want 0", customer.DiscountCents)
	}
}

func TestComputeTotals_DiscountCappedAtSubtotal(t *testing.T) {
	got := ComputeTotals(OrderInput{
		Lines:    []LineTotals{{TotalCents: 1000, DiscountPercent: 100}},
		IsDealer: true,
		Coupon:   fixedCoupon{applicable: true, discount: 900},
		Params:   testParams(),
	})

	if got.DiscountCents != 1000 {
		t.Fatalf("discount = %d, want capped at subtotal 1000", got.DiscountCents)
	}
	if got.TotalCents < 0 {
		t.Fatalf("total went negative: %d", got.TotalCents)
	}
}

func TestComputeTotals_CouponNotApplicable(t *testing.T) {
	got := ComputeTotals(OrderInput{
		Lines:  []LineTotals{{TotalCents: 100000}},
		Coupon: fixedCoupon{applicable: false, discount: 5000},
		Params: testParams(),
	})

	if got.DiscountCents != 0 {
		t.Fatalf("discount = %d, want 0 for non-applicable coupon", got.DiscountCents)
	}
}

func TestComputeTotals_ShippingThreshold(t *testing.T) {
	p := testParams()

	tests := []struct {
		name         string
		lineTotal    int64
		discountPct  float64
		isDealer     bool
		wantShipping int64
	}{
		{"customer below threshold", 49999, 0, false, 1500},
		{"customer at threshold", 50000, 0, false, 0},
		{"customer above threshold", 60000, 0, false, 0},
		{"dealer at lower threshold", 20000, 0, true, 0},
		{"dealer below lower threshold", 19999, 0, true, 1500},
		{"discount pushes dealer below threshold", 23000, 15, true, 1500},
		{"customer between dealer and customer thresholds", 30000, 0, false, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(OrderInput{
				Lines:    []LineTotals{{TotalCents: tt.lineTotal, DiscountPercent: tt.discountPct}},
				IsDealer: tt.isDealer,
				Params:   p,
			})
			if got.ShippingCents != tt.wantShipping {
				t.Fatalf("shipping = %d, want %d", got.ShippingCents, tt.wantShipping)
			}
		})
	}
}

func TestComputeTotals_TaxOnDiscountedPlusShipping(t *testing.T) {
	got := ComputeTotals(OrderInput{
		Lines:    []LineTotals{{TotalCents: 10000, DiscountPercent: 10}},
		IsDealer: true,
		Params:   testParams(),
	})

	// (10000 - 1000 + 1500) * 0.2 = 2100
	if got.TaxCents != 2100 {
		t.Fatalf("tax = %d, want 2100", got.TaxCents)
	}
	if got.TotalCents != 12600 {
		t.Fatalf("total = %d, want 12600", got.TotalCents)
	}
}

func TestComputeTotals_EmptyOrder(t *testing.T) {
	got := ComputeTotals(OrderInput{Params: testParams()})

	if got.SubtotalCents != 0 || got.DiscountCents != 0 {
		t.Fatalf("empty order produced non-zero subtotal/discount: %+v", got)
	}
}
