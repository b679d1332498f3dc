// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		raw  string
		want ID
	}{
		{"XBT", "BTC"},
		{"XXBT", "BTC"},
		{"btc", "BTC"},
		{"ZEUR", "EUR"},
		{"ZUSD", "USD"},
		{"XETH", "ETH"},
		{"XXDG", "XDG"},
		{"ETH", "ETH"},
		{"USDT", "USDT"}, // not in knownSymbols' X-prefixed rule, passthrough
		{"  eth  ", "ETH"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalize(tt.raw), "raw=%q", tt.raw)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	// Every spelling the engine can encounter: the BTC aliases, every
	// Z-prefixed fiat, and every known symbol in bare and X-prefixed form.
	inputs := []string{"XBT", "XXBT", "BTC"}
	for fiat := range fiatSet {
		inputs = append(inputs, fiat, "Z"+fiat)
	}
	for sym := range knownSymbols {
		inputs = append(inputs, sym, "X"+sym)
	}
	for sym := range stablecoinSet {
		inputs = append(inputs, sym)
	}
	for _, raw := range inputs {
		once := Canonicalize(raw)
		twice := Canonicalize(string(once))
		assert.Equal(t, once, twice, "raw=%q", raw)
	}
}

func TestIsFiat(t *testing.T) {
	assert.True(t, ID("EUR").IsFiat())
	assert.True(t, ID("USD").IsFiat())
	assert.False(t, ID("BTC").IsFiat())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("XBT", "xxbt"))
	assert.True(t, Equal("ZEUR", "eur"))
	assert.False(t, Equal("BTC", "ETH"))
}

func TestAliasesBTC(t *testing.T) {
	aliases := Aliases("BTC")
	assert.Equal(t, []string{"BTC", "XBT", "XXBT"}, aliases)
}

func TestAliasesFiat(t *testing.T) {
	aliases := Aliases("EUR")
	assert.Equal(t, []string{"EUR", "ZEUR"}, aliases)
}

func TestAliasesKnownCrypto(t *testing.T) {
	aliases := Aliases("ETH")
	assert.Equal(t, []string{"ETH", "XETH"}, aliases)
}

func TestAliasesUnknown(t *testing.T) {
	aliases := Aliases("USDT")
	assert.Equal(t, []string{"USDT"}, aliases)
}
