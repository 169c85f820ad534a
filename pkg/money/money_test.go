package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseDollarsFloors(t *testing.T) {
	cases := map[string]Money{
		"12.34":   1234,
		"12.349":  1234,
		"0.009":   0,
		"100000":  10000000,
		" 5.5 ":   550,
		"1e2":     10000,
		"0.10000": 10,
	}
	for in, want := range cases {
		got, err := ParseDollars(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseDollarsRejects(t *testing.T) {
	for _, in := range []string{
		"", "abc", "-1", "-0.01",
		"92233720368547758.08",
		"184467440737095516.17",
		"1e20",
	} {
		_, err := ParseDollars(in)
		require.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestParseDollarsUpperBound(t *testing.T) {
	got, err := ParseDollars("92233720368547758.07")
	require.NoError(t, err)
	require.Equal(t, Money(math.MaxInt64), got)

	got, err = ParseDollars("92233720368547758.079")
	require.NoError(t, err, "floors into range")
	require.Equal(t, Money(math.MaxInt64), got)
}

func TestFromFloatDollars(t *testing.T) {
	got, err := FromFloatDollars(0.29)
	require.NoError(t, err)
	require.Equal(t, Money(29), got)
}

func TestMulPercentFloor(t *testing.T) {
	require.Equal(t, Money(75), Money(500).MulPercentFloor(15))
	require.Equal(t, Money(0), Money(3).MulPercentFloor(15))
	require.Equal(t, Money(0), Money(500).MulPercentFloor(0))
	require.Equal(t, Money(149), Money(499).MulPercentFloor(30))
}

func TestString(t *testing.T) {
	require.Equal(t, "10.05", Money(1005).String())
	require.Equal(t, "0.00", Money(0).String())
	require.True(t, Money(1234).Dollars().Equal(decimal.RequireFromString("12.34")))
}

func TestPositive(t *testing.T) {
	require.NoError(t, Positive(1))
	require.ErrorIs(t, Positive(0), ErrInvalidAmount)
	require.ErrorIs(t, Positive(-5), ErrInvalidAmount)
}
