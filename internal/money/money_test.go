package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"2.345", "2.35"},
		{"-2.345", "-2.35"},
		{"-2.344", "-2.34"},
		{"-1.005", "-1.01"},
		{"10", "10"},
	}
	for _, tc := range cases {
		require.True(t, d(tc.want).Equal(Round(d(tc.in))), "round %s", tc.in)
	}
	require.True(t, d("10.5714").Equal(Internal(d("74").Div(d("7")))))
}

func TestRoundIsSymmetric(t *testing.T) {
	for _, in := range []string{"0.005", "12.345", "99.995", "0.125"} {
		pos := Round(d(in))
		neg := Round(d(in).Neg())
		require.True(t, pos.Neg().Equal(neg), "round -%s", in)
	}
}

func TestBalanced(t *testing.T) {
	require.True(t, Balanced(d("119.00"), d("119.00")))
	require.True(t, Balanced(d("100.004"), d("100.000")))
	require.False(t, Balanced(d("100.01"), d("100.00")))
	require.False(t, Balanced(d("99"), d("100")))
}

func TestIsZeroQuantity(t *testing.T) {
	require.True(t, IsZeroQuantity(decimal.Zero))
	require.True(t, IsZeroQuantity(d("0.00009")))
	require.False(t, IsZeroQuantity(d("0.0001")))
	require.False(t, IsZeroQuantity(d("-1")))
}

func TestWeightedAverage(t *testing.T) {
	require.True(t, d("11").Equal(WeightedAverage(d("5"), d("10"), d("5"), d("12"))))
	require.True(t, d("106666.6667").Equal(WeightedAverage(d("10"), d("100000"), d("5"), d("120000"))))
	require.True(t, d("12").Equal(WeightedAverage(decimal.Zero, d("10"), d("3"), d("12"))))
	require.True(t, WeightedAverage(decimal.Zero, d("10"), decimal.Zero, d("12")).IsZero())
}

func TestDivByZero(t *testing.T) {
	require.True(t, Div(d("5"), decimal.Zero).IsZero())
}

func TestParse(t *testing.T) {
	v, err := Parse("12.3456")
	require.NoError(t, err)
	require.Equal(t, "12.35", Format(v))

	_, err = Parse("")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)
}

func TestSum(t *testing.T) {
	require.True(t, d("0.3").Equal(Sum(d("0.1"), d("0.1"), d("0.1"))))
}
