// Package pricing реализует расчёт цены строки заказа и агрегацию итогов заказа.
// Все функции чистые: персистентность — забота вызывающего слоя.
package pricing

import (
	"errors"
	"fmt"

	"github.com/avoronin/dealermarket-system/internal/model"
	"github.com/avoronin/dealermarket-system/internal/money"
)

// ErrInvalidInput возвращается при нарушении предусловий расчёта цены.
var ErrInvalidInput = errors.New("invalid pricing input")

// LineInput — входные данные расчёта цены одной строки заказа.
type LineInput struct {
	Variant  *model.Variant
	Quantity int64
	Options  []model.OptionValue
	// Discount — активная дилерская скидка на товар варианта, nil если её нет.
	Discount *model.DealerDiscount
	TaxRate  float64
}

// BreakdownStep — один помеченный шаг расчёта для аудита и отображения.
type BreakdownStep struct {
	Label       string `json:"label"`
	AmountCents int64  `json:"amount_cents"`
}

// LineBreakdown — результат расчёта цены строки с пошаговой раскладкой.
// Раскладка — побочный артефакт для аудита, источником истины остаются
// итоговые поля.
type LineBreakdown struct {
	SubtotalCents      int64           `json:"subtotal_cents"`
	DiscountCents      int64           `json:"discount_cents"`
	AfterDiscountCents int64           `json:"after_discount_cents"`
	OptionsCents       int64           `json:"options_cents"`
	TaxableCents       int64           `json:"taxable_cents"`
	TaxCents           int64           `json:"tax_cents"`
	TotalCents         int64           `json:"total_cents"`
	Steps              []BreakdownStep `json:"steps"`
}

// PriceLine считает цену одной строки заказа: вариант, количество, выбранные
// опции, дилерская скидка и налог. Порядок шагов фиксирован: скидка от
// подытога, затем доплаты за опции, затем налог от налогооблагаемой базы.
func PriceLine(in LineInput) (*LineBreakdown, error) {
	if in.Variant == nil {
		return nil, fmt.Errorf("%w: variant is required", ErrInvalidInput)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, in.Quantity)
	}
	if in.TaxRate < 0 || in.TaxRate > 1 {
		return nil, fmt.Errorf("%w: tax rate must be within [0,1], got %v", ErrInvalidInput, in.TaxRate)
	}
	for _, opt := range in.Options {
		if opt.ProductID != in.Variant.ProductID {
			return nil, fmt.Errorf("%w: option value %d belongs to product %d, variant belongs to product %d",
				ErrInvalidInput, opt.ID, opt.ProductID, in.Variant.ProductID)
		}
		if opt.Mode != model.ChargeModeFlat && opt.Mode != model.ChargeModePerUnit {
			return nil, fmt.Errorf("%w: unknown charge mode %q", ErrInvalidInput, opt.Mode)
		}
	}

	b := &LineBreakdown{}

	b.SubtotalCents = in.Variant.UnitPriceCents * in.Quantity
	b.addStep("subtotal", b.SubtotalCents)

	if in.Discount != nil && in.Discount.Active {
		if in.Discount.DiscountPercent < 0 || in.Discount.DiscountPercent > 100 {
			return nil, fmt.Errorf("%w: discount percent must be within [0,100], got %v",
				ErrInvalidInput, in.Discount.DiscountPercent)
		}
		b.DiscountCents = money.Percent(b.SubtotalCents, in.Discount.DiscountPercent)
		b.addStep(fmt.Sprintf("dealer discount %v%%", in.Discount.DiscountPercent), -b.DiscountCents)
	}

	b.AfterDiscountCents = b.SubtotalCents - b.DiscountCents

	for _, opt := range in.Options {
		charge := opt.PriceCents
		if opt.Mode == model.ChargeModePerUnit {
			charge = opt.PriceCents * in.Quantity
		}
		b.OptionsCents += charge
		b.addStep(fmt.Sprintf("option %s (%s)", opt.Label, opt.Mode), charge)
	}

	b.TaxableCents = b.AfterDiscountCents + b.OptionsCents
	b.TaxCents = money.Rate(b.TaxableCents, in.TaxRate)
	b.addStep("tax", b.TaxCents)

	b.TotalCents = b.TaxableCents + b.TaxCents
	b.addStep("total", b.TotalCents)

	return b, nil
}

func (b *LineBreakdown) addStep(label string, amount int64) {
	b.Steps = append(b.Steps, BreakdownStep{Label: label, AmountCents: amount})
}
