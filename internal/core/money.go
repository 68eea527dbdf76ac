// Package core holds the domain types shared by the ledger and the
// monthly spend aggregate.
//
// This file contains decimal amount parsing. Amounts are kept as exact
// decimals end to end; they are stored as text and never pass through
// a float.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal is the exact monetary amount representation used everywhere.
type Decimal = decimal.Decimal

// ParseAmount converts a signed decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Returns ErrInvalidAmount for anything else.
//
// Examples:
//
//	ParseAmount("-1800") -> -1800, nil
//	ParseAmount("125,47") -> 125.47, nil
//	ParseAmount("12.3.4") -> error
func ParseAmount(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// NewMoney builds a Money from an exact decimal string and a currency code.
func NewMoney(amount, currency string) (Money, error) {
	d, err := ParseAmount(amount)
	if err != nil {
		return Money{}, err
	}
	m := Money{Amount: d, Currency: strings.ToUpper(strings.TrimSpace(currency))}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}
