// Package money holds the integer minor-unit currency type used for every
// balance, reward and withdrawal amount. Dollar values entering from outside
// are converted here, once, by flooring to whole cents.
package money

import (
	"fmt"
	"math"
	"strings"

	"promohive/pkg/errutil"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents.
type Money int64

var ErrInvalidAmount = errutil.Sentinel(errutil.StatusValidationFailed, "invalid amount")

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

func Cents(v int64) Money { return Money(v) }

func (m Money) Int64() int64 { return int64(m) }

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

func (m Money) Neg() Money { return -m }

func (m Money) IsPositive() bool { return m > 0 }

func (m Money) IsNegative() bool { return m < 0 }

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// MulPercentFloor returns floor(m * pct / 100) for non-negative m and pct.
func (m Money) MulPercentFloor(pct int64) Money {
	if m <= 0 || pct <= 0 {
		return 0
	}
	return Money(int64(m) * pct / 100)
}

// Dollars returns m as an exact decimal dollar value.
func (m Money) Dollars() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Dollars().StringFixed(2)
}

// FromDollars floors a dollar amount to cents. Negative input is rejected.
func FromDollars(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return 0, ErrInvalidAmount.Wrap(fmt.Errorf("negative amount %s", d.String()))
	}
	cents := d.Mul(hundred).Floor()
	if cents.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount.Wrap(fmt.Errorf("amount %s is out of range", d.String()))
	}
	return Money(cents.IntPart()), nil
}

// ParseDollars parses a human-entered dollar string such as "12.349" into 1234 cents.
func ParseDollars(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidAmount.Wrap(err)
	}
	return FromDollars(d)
}

// FromFloatDollars converts a float dollar amount coming off a JSON boundary.
func FromFloatDollars(f float64) (Money, error) {
	return FromDollars(decimal.NewFromFloat(f))
}

// Positive validates that m is a strictly positive amount.
func Positive(m Money) error {
	if m <= 0 {
		return ErrInvalidAmount.Wrap(fmt.Errorf("amount must be positive, got %d", int64(m)))
	}
	return nil
}
