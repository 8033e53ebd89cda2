// Package money converts between decimal currency strings and integer minor units.
// Amounts are never carried as floats anywhere in the pipeline.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ToPennies parses a major-unit decimal string such as "12.34" into minor units.
// Values with more than two decimal places are rejected rather than rounded.
func ToPennies(amount string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	minor := d.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has sub-penny precision", ErrInvalidAmount, amount)
	}

	return minor.IntPart(), nil
}

// ToPounds formats minor units as a major-unit string with exactly two decimals
func ToPounds(pennies int64) string {
	return decimal.New(pennies, -2).StringFixed(2)
}

// ParseAmount accepts the shapes a canonical record may carry: a decimal string
// in major units, or an integral JSON number already in minor units.
func ParseAmount(v any) (int64, error) {
	switch a := v.(type) {
	case string:
		return ToPennies(a)
	case int:
		return int64(a), nil
	case int64:
		return a, nil
	case float64:
		d := decimal.NewFromFloat(a)
		if !d.Equal(d.Truncate(0)) {
			return 0, fmt.Errorf("%w: numeric amounts must be integral minor units, got %v", ErrInvalidAmount, a)
		}
		return d.IntPart(), nil
	case decimal.Decimal:
		return ToPennies(a.String())
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidAmount)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

// Scale applies a spend multiplier to a minor-unit amount
func Scale(pennies int64, multiplier int) int64 {
	if multiplier <= 0 {
		return pennies
	}
	return pennies * int64(multiplier)
}

// FormatMultiplied renders an amount stored with a multiplier back in major units
func FormatMultiplied(amount int64, multiplier int) string {
	if multiplier <= 1 {
		return ToPounds(amount)
	}
	return decimal.New(amount, -2).Div(decimal.NewFromInt(int64(multiplier))).StringFixed(2)
}

// ParseMultiplier reads an optional spend multiplier, defaulting to 1
func ParseMultiplier(v any) (int, error) {
	switch m := v.(type) {
	case nil:
		return 1, nil
	case float64:
		if m < 1 || m != float64(int(m)) {
			return 0, fmt.Errorf("invalid spend multiplier %v", m)
		}
		return int(m), nil
	case int:
		if m < 1 {
			return 0, fmt.Errorf("invalid spend multiplier %d", m)
		}
		return m, nil
	case string:
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("invalid spend multiplier %q", m)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid spend multiplier type %T", v)
	}
}
