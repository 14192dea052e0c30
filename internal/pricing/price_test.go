package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/shared"
)

func TestComputeFinalPriceComposition(t *testing.T) {
	res := ComputeFinalPrice(1_000_000, 50_000, 20_000, 10_000, 30_000, 0)
	assert.Equal(t, Money(1_050_000), res.Amount)
	assert.False(t, res.Clamped)
}

func TestComputeFinalPriceDiscountsDoNotCompound(t *testing.T) {
	// Both discounts come off the same gross, never off each other.
	res := ComputeFinalPrice(800_000, 100_000, 0, 0, 90_000, 10_000)
	assert.Equal(t, Money(800_000), res.Amount)
}

func TestComputeFinalPriceClampsAndFlags(t *testing.T) {
	res := ComputeFinalPrice(100, 0, 0, 0, 80, 50)
	assert.Equal(t, Money(0), res.Amount)
	assert.Equal(t, Money(-30), res.Raw)
	assert.True(t, res.Clamped)
}

func TestComputeFinalPriceNeverNegative(t *testing.T) {
	for _, dealer := range []Money{0, 1, 500, 10_000, 1 << 40} {
		for _, promo := range []Money{0, 7, 999, 1 << 41} {
			res := ComputeFinalPrice(1_000, -200, 50, 25, dealer, promo)
			assert.GreaterOrEqual(t, int64(res.Amount), int64(0))
			assert.Equal(t, res.Raw < 0, res.Clamped)
		}
	}
}

func TestComputeFinalPriceExtremeInputs(t *testing.T) {
	res := ComputeFinalPrice(100, 0, 0, 0, math.MaxInt64, math.MaxInt64)
	assert.Equal(t, Money(0), res.Amount)
	assert.True(t, res.Clamped)
	assert.Less(t, int64(res.Raw), int64(0))

	res = ComputeFinalPrice(math.MaxInt64, math.MaxInt64, 0, math.MaxInt64, 0, 0)
	assert.Equal(t, Money(math.MaxInt64), res.Amount)
	assert.False(t, res.Clamped)

	res = ComputeFinalPrice(0, math.MinInt64, math.MinInt64, 0, 0, math.MaxInt64)
	assert.Equal(t, Money(0), res.Amount)
	assert.True(t, res.Clamped)

	for _, discount := range []Money{MaxAmount, math.MaxInt64 / 2, math.MaxInt64} {
		res = ComputeFinalPrice(MaxAmount, MaxAmount, MaxAmount, MaxAmount, discount, discount)
		assert.GreaterOrEqual(t, int64(res.Amount), int64(0))
		assert.Equal(t, res.Raw < 0, res.Clamped)
	}
}

func TestBreakdownValidateBoundsComponents(t *testing.T) {
	require.NoError(t, Breakdown{Base: MaxAmount, DealerDiscount: MaxAmount, Variant: -MaxAmount}.Validate())
	for _, b := range []Breakdown{
		{Base: 100, DealerDiscount: math.MaxInt64},
		{Base: 100, PromotionDiscount: MaxAmount + 1},
		{Base: MaxAmount + 1},
		{Base: 100, Variant: math.MinInt64},
		{Base: 100, Color: MaxAmount + 1},
	} {
		require.ErrorIs(t, b.Validate(), shared.ErrInvalidAmount, "%+v", b)
	}
}

func TestBreakdownValidate(t *testing.T) {
	require.NoError(t, Breakdown{Base: 10, Variant: -5}.Validate())
	err := Breakdown{Base: 10, DealerDiscount: -1}.Validate()
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	err = Breakdown{Base: -1}.Validate()
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestBreakdownFinal(t *testing.T) {
	b := Breakdown{Base: 1_000_000, Variant: 50_000, Color: 20_000, Fees: 10_000, DealerDiscount: 30_000}
	assert.Equal(t, Money(1_050_000), b.Final().Amount)
}
