package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits of every stored amount.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimals (half-up for the
// non-negative amounts the ledger deals with).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// FormatMoney renders an amount with exactly two decimals, e.g. "1234.50".
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// ParseMoney is the inverse of FormatMoney. It accepts any decimal notation
// and rejects values with more than two fractional digits.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	if !d.Equal(RoundMoney(d)) {
		return decimal.Zero, fmt.Errorf("parse money %q: more than %d decimals", s, MoneyScale)
	}
	return d, nil
}

func sumMoney(amounts []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}
