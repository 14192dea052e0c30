// Package pricing composes vehicle prices and amortizes installment plans.
// All amounts are integer minor units of the dealer currency.
package pricing

// Money is an amount in minor units. No floats.
type Money int64

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m > 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// MaxAmount bounds the magnitude of every price, charge and debt. It is
// 2^53-1, the largest integer a float64 represents exactly.
const MaxAmount Money = 1<<53 - 1

// InBounds reports whether the magnitude of m is at most MaxAmount.
func (m Money) InBounds() bool { return m >= -MaxAmount && m <= MaxAmount }
