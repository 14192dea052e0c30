package pricing

import (
	"fmt"
	"math"

	"github.com/evdms/evdms/internal/shared"
)

// Breakdown carries the inputs of a vehicle price. Variant and color
// modifiers may be negative (a cheaper trim); everything else may not.
// No component may exceed MaxAmount in magnitude.
type Breakdown struct {
	Base              Money `json:"base_price" validate:"gte=0,lte=9007199254740991"`
	Variant           Money `json:"variant_price" validate:"gte=-9007199254740991,lte=9007199254740991"`
	Color             Money `json:"color_price" validate:"gte=-9007199254740991,lte=9007199254740991"`
	Fees              Money `json:"fees" validate:"gte=0,lte=9007199254740991"`
	DealerDiscount    Money `json:"dealer_discount" validate:"gte=0,lte=9007199254740991"`
	PromotionDiscount Money `json:"promotion_discount" validate:"gte=0,lte=9007199254740991"`
}

// Result is the output of ComputeFinalPrice.
type Result struct {
	Amount  Money `json:"final_price"`
	Raw     Money `json:"raw_price"`
	Clamped bool  `json:"clamped"`
}

// Validate rejects negative base, fees or discounts and any component
// beyond MaxAmount.
func (b Breakdown) Validate() error {
	for _, m := range []Money{b.Base, b.Variant, b.Color, b.Fees, b.DealerDiscount, b.PromotionDiscount} {
		if !m.InBounds() {
			return fmt.Errorf("%w: price component %d exceeds %d", shared.ErrInvalidAmount, m, MaxAmount)
		}
	}
	switch {
	case b.Base.IsNegative():
		return fmt.Errorf("%w: base price must not be negative", shared.ErrInvalidAmount)
	case b.Fees.IsNegative():
		return fmt.Errorf("%w: fees must not be negative", shared.ErrInvalidAmount)
	case b.DealerDiscount.IsNegative():
		return fmt.Errorf("%w: dealer discount must not be negative", shared.ErrInvalidAmount)
	case b.PromotionDiscount.IsNegative():
		return fmt.Errorf("%w: promotion discount must not be negative", shared.ErrInvalidAmount)
	}
	return nil
}

// Final returns the composed price of the breakdown.
func (b Breakdown) Final() Result {
	return ComputeFinalPrice(b.Base, b.Variant, b.Color, b.Fees, b.DealerDiscount, b.PromotionDiscount)
}

// ComputeFinalPrice adds the modifiers to the base price, then subtracts both
// discounts. Discounts never compound. A negative raw result clamps to zero
// and sets Clamped, which callers must surface as a misconfigured discount.
// Sums saturate at the int64 range instead of wrapping.
func ComputeFinalPrice(base, variant, color, fees, dealerDiscount, promotionDiscount Money) Result {
	gross := addSat(addSat(addSat(base, variant), color), fees)
	raw := subSat(subSat(gross, dealerDiscount), promotionDiscount)
	if raw < 0 {
		return Result{Amount: 0, Raw: raw, Clamped: true}
	}
	return Result{Amount: raw, Raw: raw}
}

func addSat(a, b Money) Money {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}

func subSat(a, b Money) Money {
	diff := a - b
	switch {
	case a >= 0 && b < 0 && diff < 0:
		return math.MaxInt64
	case a < 0 && b > 0 && diff >= 0:
		return math.MinInt64
	}
	return diff
}
