package pricing

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/evdms/evdms/internal/shared"
)

// precision of intermediate amortization arithmetic, in mantissa bits.
const precision = 256

// Installment is one row of an amortization schedule.
type Installment struct {
	Month     int   `json:"month"`
	Payment   Money `json:"payment"`
	Interest  Money `json:"interest"`
	Principal Money `json:"principal"`
	Balance   Money `json:"balance"`
}

// MonthlyPayment returns the fixed monthly payment that amortizes principal
// over months at annualRatePercent. Intermediate values keep full precision;
// the result is rounded half-up to minor units exactly once. A zero term owes
// nothing whatever the principal and rate.
func MonthlyPayment(principal Money, annualRatePercent float64, months int) (Money, error) {
	if months == 0 {
		return 0, nil
	}
	if err := validateLoan(principal, annualRatePercent, months); err != nil {
		return 0, err
	}
	if principal == 0 {
		return 0, nil
	}
	p := newFloat().SetInt64(int64(principal))
	n := newFloat().SetInt64(int64(months))
	if annualRatePercent == 0 {
		return roundHalfUp(newFloat().Quo(p, n))
	}

	r := monthlyRate(annualRatePercent)
	growth := pow(newFloat().Add(newFloat().SetInt64(1), r), months)
	numerator := newFloat().Mul(newFloat().Mul(p, r), growth)
	denominator := newFloat().Sub(growth, newFloat().SetInt64(1))
	return roundHalfUp(newFloat().Quo(numerator, denominator))
}

// Schedule expands a loan into monthly installments. Interest is rounded per
// row; the final row settles the remaining balance so principals sum to the
// loan amount.
func Schedule(principal Money, annualRatePercent float64, months int) ([]Installment, error) {
	payment, err := MonthlyPayment(principal, annualRatePercent, months)
	if err != nil {
		return nil, err
	}
	if months == 0 || principal == 0 {
		return nil, nil
	}

	r := newFloat()
	if annualRatePercent > 0 {
		r = monthlyRate(annualRatePercent)
	}
	rows := make([]Installment, 0, months)
	balance := principal
	for month := 1; month <= months; month++ {
		interest, err := roundHalfUp(newFloat().Mul(newFloat().SetInt64(int64(balance)), r))
		if err != nil {
			return nil, err
		}
		row := Installment{Month: month, Payment: payment, Interest: interest}
		row.Principal = payment - interest
		if month == months || row.Principal > balance {
			row.Principal = balance
			row.Payment = balance + interest
		}
		balance -= row.Principal
		row.Balance = balance
		rows = append(rows, row)
	}
	return rows, nil
}

func validateLoan(principal Money, annualRatePercent float64, months int) error {
	switch {
	case principal.IsNegative():
		return fmt.Errorf("%w: principal must not be negative", shared.ErrInvalidAmount)
	case months < 0:
		return fmt.Errorf("%w: term must not be negative", shared.ErrInvalidAmount)
	case math.IsNaN(annualRatePercent) || math.IsInf(annualRatePercent, 0) || annualRatePercent < 0:
		return fmt.Errorf("%w: annual rate must be a non-negative number", shared.ErrInvalidAmount)
	}
	return nil
}

// monthlyRate converts a percent per year into a fraction per month. The rate
// goes through its shortest decimal form so 7.1 means 7.1, not its binary neighbour.
func monthlyRate(annualRatePercent float64) *big.Float {
	rate, _, err := newFloat().Parse(strconv.FormatFloat(annualRatePercent, 'f', -1, 64), 10)
	if err != nil {
		rate = newFloat().SetFloat64(annualRatePercent)
	}
	return newFloat().Quo(rate, newFloat().SetInt64(1200))
}

func pow(base *big.Float, exp int) *big.Float {
	result := newFloat().SetInt64(1)
	b := newFloat().Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	return result
}

func roundHalfUp(x *big.Float) (Money, error) {
	half := newFloat().SetFloat64(0.5)
	if x.Sign() < 0 {
		x = newFloat().Sub(x, half)
	} else {
		x = newFloat().Add(x, half)
	}
	i, _ := x.Int(nil)
	if !i.IsInt64() {
		return 0, fmt.Errorf("%w: amount overflows minor units", shared.ErrInvalidAmount)
	}
	return Money(i.Int64()), nil
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(precision)
}
