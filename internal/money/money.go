// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package money implements fixed-precision decimal arithmetic for the tax
// engine. Every EUR and crypto-unit value that flows through the engine is a
// Money; floats never touch a monetary value.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Prec is the internal fractional-digit precision. Crypto unit amounts need
// more than the 2 decimal places EUR reporting uses.
const Prec = 18

// Epsilon is the residual below which a lot is considered fully consumed.
// A disposal shortfall is not measured against it: any non-zero shortfall
// counts.
var Epsilon = decimal.New(1, -12)

// Money is a closed decimal value: no NaN, no Inf, no scientific notation.
type Money struct {
	d decimal.Decimal
}

// Rate is a unitless decimal multiplier (e.g. a proportion or a price ratio)
// distinguished from Money so that Money*Money can never compile.
type Rate struct {
	d decimal.Decimal
}

// ArithmeticOverflow is returned when a value's digit count exceeds what the
// engine is willing to carry. shopspring/decimal is arbitrary-precision, so
// this is a policy limit rather than a hardware overflow: it guards against
// malformed input (e.g. a corrupted price field with a thousand digits)
// silently propagating through every downstream computation.
type ArithmeticOverflow struct {
	Op    string
	Value string
}

func (e *ArithmeticOverflow) Error() string {
	return fmt.Sprintf("money: arithmetic overflow in %s: %s exceeds %d-digit precision", e.Op, e.Value, Prec+20)
}

// maxDigits bounds the total digit count (integer + fractional) the engine
// accepts for any single Money value.
const maxDigits = Prec + 20

func checkOverflow(op string, d decimal.Decimal) error {
	coeff := d.Coefficient()
	digits := len(strings.TrimLeft(coeff.Abs(coeff).String(), "0"))
	if digits > maxDigits {
		return &ArithmeticOverflow{Op: op, Value: d.String()}
	}
	return nil
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// One is the multiplicative identity, also EUR's own price.
var One = Money{d: decimal.New(1, 0)}

// New builds a Money from an integer unscaled value and exponent, mirroring
// decimal.New for callers that already have split mantissa/exponent data.
func New(value int64, exp int32) Money {
	return Money{d: decimal.New(value, exp)}
}

// Parse parses a decimal string strictly: no scientific notation, no
// trailing garbage, no thousands separators. Callers that need to tolerate
// dirty exchange exports should clean the string themselves before calling
// Parse; the engine's own ingestion boundary is normalize.Normalizer, not
// this function.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("money: empty string")
	}
	if strings.ContainsAny(s, "eE") {
		return Zero, fmt.Errorf("money: scientific notation not allowed: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	if err := checkOverflow("parse", d); err != nil {
		return Zero, err
	}
	return Money{d: d.Truncate(Prec)}, nil
}

// MustParse panics on a malformed string; reserved for literal constants in
// tests and fixtures.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal adopts a decimal.Decimal that a caller (e.g. an oracle
// provider) already produced via the shopspring API.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if err := checkOverflow("fromDecimal", d); err != nil {
		return Zero, err
	}
	return Money{d: d.Truncate(Prec)}, nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	r := m.d.Add(other.d)
	if err := checkOverflow("add", r); err != nil {
		return Zero, err
	}
	return Money{d: r}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	r := m.d.Sub(other.d)
	if err := checkOverflow("sub", r); err != nil {
		return Zero, err
	}
	return Money{d: r}, nil
}

// MulRate returns m * rate. Money*Money is intentionally not defined: a
// price times a price is not a meaningful monetary quantity, so the only
// multiplication this type exposes is by a unitless Rate.
func (m Money) MulRate(rate Rate) (Money, error) {
	r := m.d.Mul(rate.d)
	if err := checkOverflow("mulRate", r); err != nil {
		return Zero, err
	}
	return Money{d: r.Truncate(Prec)}, nil
}

// DivUnits returns m / units as a Rate (e.g. total cost / units = unit
// price). Dividing by zero units is the caller's responsibility to guard;
// DivUnits returns an error rather than panicking or returning Inf.
func (m Money) DivUnits(units Money) (Rate, error) {
	if units.IsZero() {
		return Rate{}, fmt.Errorf("money: division by zero units")
	}
	r := m.d.DivRound(units.d, Prec)
	if err := checkOverflow("divUnits", r); err != nil {
		return Rate{}, err
	}
	return Rate{d: r}, nil
}

// Abs returns the absolute value.
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// Neg returns the additive inverse.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// IsZero reports whether the value is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegligible reports whether the value's magnitude falls below Epsilon,
// the threshold at which a FIFO lot is considered fully consumed
// rather than left open with a dust balance from rounding.
func (m Money) IsNegligible() bool { return m.d.Abs().LessThan(Epsilon) }

// IsNegative reports whether the value is strictly less than zero.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports whether the value is strictly greater than zero.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Cmp compares m to other: -1, 0, or 1.
func (m Money) Cmp(other Money) int { return m.d.Cmp(other.d) }

// GreaterThan reports m > other.
func (m Money) GreaterThan(other Money) bool { return m.d.GreaterThan(other.d) }

// LessThanOrEqual reports m <= other.
func (m Money) LessThanOrEqual(other Money) bool { return m.d.LessThanOrEqual(other.d) }

// Min returns the smaller of m and other.
func Min(m, other Money) Money {
	if m.Cmp(other) <= 0 {
		return m
	}
	return other
}

// String renders the full-precision value, suitable for internal logs, not
// for the 2-decimal fiat report output (use StringFixed for that).
func (m Money) String() string { return m.d.String() }

// StringFixed renders the value rounded to places decimals using banker's
// rounding (round-half-to-even), as required for the EUR columns in the
// final report.
func (m Money) StringFixed(places int32) string {
	return m.d.RoundBank(places).StringFixed(places)
}

// Float64 converts a Rate to a float64, for use in non-monetary statistics
// (e.g. a weighted average holding period) where decimal exactness does not
// matter. Never use this for a Money value carrying EUR or unit amounts.
func (r Rate) Float64() float64 {
	f, _ := r.d.Float64()
	return f
}

// RateFromString parses a unitless rate (e.g. a proportion) the same way
// Parse does for Money.
func RateFromString(s string) (Rate, error) {
	m, err := Parse(s)
	if err != nil {
		return Rate{}, err
	}
	return Rate{d: m.d}, nil
}

// MarshalText lets Money participate directly in encoding/json and
// encoding/csv-adjacent marshaling without ever round-tripping through a
// binary float.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.d.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (m *Money) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
