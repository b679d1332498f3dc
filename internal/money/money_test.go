// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsScientificNotation(t *testing.T) {
	_, err := Parse("1.5e10")
	require.Error(t, err)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}

func TestAddSub(t *testing.T) {
	a := MustParse("10.50")
	b := MustParse("3.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "13.75", sum.StringFixed(2))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "7.25", diff.StringFixed(2))
}

func TestMulRate(t *testing.T) {
	price := MustParse("100.00")
	units, err := RateFromString("2.5")
	require.NoError(t, err)

	total, err := price.MulRate(units)
	require.NoError(t, err)
	assert.Equal(t, "250.00", total.StringFixed(2))
}

func TestDivUnitsByZero(t *testing.T) {
	_, err := MustParse("10.00").DivUnits(Zero)
	require.Error(t, err)
}

func TestStringFixedBankersRounding(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.00"}, // round-half-to-even: 0 is even
		{"1.015", "1.02"}, // 2 is even
		{"1.025", "1.02"},
		{"1.035", "1.04"},
	}
	for _, tt := range tests {
		m := MustParse(tt.in)
		assert.Equal(t, tt.want, m.StringFixed(2), "input %s", tt.in)
	}
}

func TestIsNegligible(t *testing.T) {
	assert.True(t, MustParse("0.0000000000001").IsNegligible())
	assert.False(t, MustParse("0.01").IsNegligible())
}

func TestMin(t *testing.T) {
	a := MustParse("5")
	b := MustParse("3")
	assert.Equal(t, b, Min(a, b))
	assert.Equal(t, b, Min(b, a))
}

func TestMarshalUnmarshalTextRoundTrip(t *testing.T) {
	m := MustParse("123.456789")
	text, err := m.MarshalText()
	require.NoError(t, err)

	var back Money
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, 0, m.Cmp(back))
}

func TestOverflowGuard(t *testing.T) {
	digits := make([]byte, maxDigits+5)
	for i := range digits {
		digits[i] = '9'
	}
	_, err := Parse(string(digits))
	require.Error(t, err)
	var overflow *ArithmeticOverflow
	assert.ErrorAs(t, err, &overflow)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	for _, s := range []string{"12.5abc", "12.5 EUR", "1,000.50"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestDivUnitsProducesUnitPrice(t *testing.T) {
	total := MustParse("22500")
	units := MustParse("0.75")
	rate, err := total.DivUnits(units)
	require.NoError(t, err)

	back, err := One.MulRate(rate)
	require.NoError(t, err)
	assert.Equal(t, "30000.00", back.StringFixed(2))
}

func TestNegAbs(t *testing.T) {
	m := MustParse("-5.5")
	assert.True(t, m.IsNegative())
	assert.Equal(t, "5.5", m.Abs().String())
	assert.Equal(t, "5.5", m.Neg().String())
	assert.True(t, MustParse("5.5").Neg().IsNegative())
}
