// Package money holds the decimal precision rules shared by the ledger and
// costing engines. Amounts are never represented as binary floats.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// InternalScale is the number of decimals kept for intermediate cost math.
	InternalScale int32 = 4
	// PresentationScale is the number of decimals stored on journal lines and reported.
	PresentationScale int32 = 2
)

var (
	// BalanceTolerance is the largest debit/credit difference still considered balanced.
	BalanceTolerance = decimal.New(1, -2)
	// QuantityTolerance is the quantity treated as zero stock.
	QuantityTolerance = decimal.New(1, -4)
)

// RoundHalfUp rounds d to places decimals, ties going away from zero so that
// a negative balance rounds to the mirror of its positive amount.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Round rounds to the presentation scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, PresentationScale)
}

// Internal rounds to the internal cost scale.
func Internal(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, InternalScale)
}

// Div divides at internal scale. A zero divisor yields zero.
func Div(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return Internal(num.Div(den))
}

// Mul multiplies at internal scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Internal(a.Mul(b))
}

// Sum adds values exactly.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Balanced reports whether |debit - credit| is below BalanceTolerance.
func Balanced(debit, credit decimal.Decimal) bool {
	return debit.Sub(credit).Abs().LessThan(BalanceTolerance)
}

// IsZeroQuantity reports whether q is within QuantityTolerance of zero.
func IsZeroQuantity(q decimal.Decimal) bool {
	return q.Abs().LessThan(QuantityTolerance)
}

// WeightedAverage blends an existing (qty, cost) position with an incoming one.
// NewCost = (q0*c0 + q1*c1) / (q0 + q1).
func WeightedAverage(q0, c0, q1, c1 decimal.Decimal) decimal.Decimal {
	qty := q0.Add(q1)
	if !qty.IsPositive() {
		return decimal.Zero
	}
	value := q0.Mul(c0).Add(q1.Mul(c1))
	return Div(value, qty)
}

// Parse reads a decimal string, rejecting empty input.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// Format renders d at presentation scale.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(PresentationScale)
}
