// Package core provides the domain types shared by the engine, the stores
// and the front-end.
//
// This file contains helpers for parsing monetary amounts from provider
// exports and converting minor currency units into normalized decimals.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal string into a non-negative amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Thousands
// separators are not supported. Negative values and signs are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("0")     -> 0, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FromMinorUnits converts an integer amount in minor units (cents) into a
// decimal using the given currency exponent, e.g. 1234 with exponent 2 is 12.34.
func FromMinorUnits(minor int64, exponent int32) decimal.Decimal {
	return decimal.New(minor, -exponent)
}

// FormatAmount renders an amount with a fixed number of places for display.
func FormatAmount(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
