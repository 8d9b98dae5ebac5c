package pricing

import (
	"github.com/avoronin/dealermarket-system/internal/money"
)

// Coupon описывает контракт внешнего купонного сервиса.
type Coupon interface {
	Applicable(subtotalCents int64) bool
	CalculateDiscount(amountCents int64) int64
}

// Params — конфигурируемые параметры агрегации итогов заказа.
type Params struct {
	TaxRate float64
	// ShippingFeeCents — фиксированная стоимость доставки ниже порога.
	ShippingFeeCents int64
	// FreeShippingThresholdCents — порог бесплатной доставки для покупателей.
	FreeShippingThresholdCents int64
	// DealerFreeShippingThresholdCents — пониженный порог для дилеров.
	DealerFreeShippingThresholdCents int64
}

// LineTotals — вход агрегатора по одной строке заказа: её сумма и активный
// процент дилерской скидки на товар строки (0, если скидки нет).
type LineTotals struct {
	TotalCents      int64
	DiscountPercent float64
}

// Totals — итоговые денежные поля заказа.
// Инвариант: Total == Subtotal - Discount + Shipping + Tax.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// OrderInput — входные данные агрегации итогов заказа.
type OrderInput struct {
	Lines    []LineTotals
	IsDealer bool
	// Coupon — применённый купон, nil если купона нет.
	Coupon Coupon
	Params Params
}

// ComputeTotals агрегирует итоги заказа с нуля по текущим строкам.
// Никаких инкрементальных корректировок: повторный вызов без изменения строк
// обязан дать идентичный результат.
func ComputeTotals(in OrderInput) Totals {
	var t Totals

	for _, line := range in.Lines {
		t.SubtotalCents += line.TotalCents
	}

	var dealerDiscount int64
	if in.IsDealer {
		for _, line := range in.Lines {
			if line.DiscountPercent > 0 {
				dealerDiscount += money.Percent(line.TotalCents, line.DiscountPercent)
			}
		}
	}

	var couponDiscount int64
	if in.Coupon != nil && in.Coupon.Applicable(t.SubtotalCents) {
		couponDiscount = in.Coupon.CalculateDiscount(t.SubtotalCents)
	}

	// Скидка никогда не превышает подытог.
	t.DiscountCents = dealerDiscount + couponDiscount
	if t.DiscountCents > t.SubtotalCents {
		t.DiscountCents = t.SubtotalCents
	}

	threshold := in.Params.FreeShippingThresholdCents
	if in.IsDealer {
		threshold = in.Params.DealerFreeShippingThresholdCents
	}
	if t.SubtotalCents-t.DiscountCents < threshold {
		t.ShippingCents = in.Params.ShippingFeeCents
	}

	t.TaxCents = money.Rate(t.SubtotalCents-t.DiscountCents+t.ShippingCents, in.Params.TaxRate)
	t.TotalCents = t.SubtotalCents - t.DiscountCents + t.ShippingCents + t.TaxCents

	return t
}
