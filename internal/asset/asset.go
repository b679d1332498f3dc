// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package asset canonicalizes exchange ticker symbols into the stable
// identifiers the rest of the tax engine keys its lot books and reports by.
// Historical exchange exports spell the same asset several different ways
// (XBT, XXBT, BTC) across different eras of the same account; two assets are
// the same iff they canonicalize to the same string.
package asset

import "strings"

// ID is a canonical uppercase asset symbol.
type ID string

// fiatSet is the set of fiat currencies the engine recognizes. Order does
// not matter for membership, but Z-prefix stripping checks membership of the
// stripped form against this table.
var fiatSet = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
	"JPY": true,
	"CAD": true,
	"AUD": true,
	"CHF": true,
}

// stablecoinSet lists the fiat-pegged crypto assets the price oracle still
// prices at its market rate rather than assuming a 1:1 EUR peg: a depeg is
// a real gain/loss under §23 EStG.
var stablecoinSet = map[string]bool{
	"USDT": true,
	"USDC": true,
	"DAI":  true,
}

// btcAliases collects the historical spellings that canonicalize to BTC:
// XBT for trades, XXBT in Kraken's ledger exports.
var btcAliases = map[string]bool{
	"XBT":  true,
	"XXBT": true,
}

// knownSymbols is the set of crypto tickers for which an X-prefixed
// historical spelling is recognized (rule 3), bare form only.
var knownSymbols = map[string]bool{
	"ETH": true, "XDG": true, "DOGE": true, "ADA": true, "DOT": true,
	"SOL": true, "LTC": true, "XRP": true, "XTZ": true, "XLM": true,
	"ATOM": true, "LINK": true, "UNI": true, "AAVE": true, "SNX": true,
	"YFI": true, "COMP": true, "BAL": true, "CRV": true, "GRT": true,
	"AVAX": true, "FTM": true, "ALGO": true, "NEAR": true, "FIL": true, "MATIC": true,
	"FLOW": true, "APT": true, "MANA": true, "SAND": true, "AXS": true,
	"ENJ": true, "CHZ": true, "GALA": true, "APE": true, "SHIB": true,
	"LUNA": true, "REP": true, "KSM": true, "ZEC": true, "DASH": true,
	"XMR": true, "BCH": true, "ETC": true, "TRX": true, "OCEAN": true,
	"QTUM": true, "ICX": true, "OXT": true, "OMG": true, "ZRX": true,
	"BAT": true, "ARB": true, "REPV2": true,
}

// Canonicalize applies a fixed-order rule set, first match wins:
//  1. XBT/XXBT -> BTC
//  2. Z-prefixed fiat -> strip Z
//  3. X-prefixed 3-4 letter known symbol -> strip X
//  4. otherwise, uppercase as-is
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) ID {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ID(s)
	}

	if btcAliases[s] {
		return "BTC"
	}

	if strings.HasPrefix(s, "Z") {
		stripped := s[1:]
		if fiatSet[stripped] {
			return ID(stripped)
		}
	}

	if strings.HasPrefix(s, "X") && len(s) > 1 {
		stripped := s[1:]
		if (len(stripped) == 3 || len(stripped) == 4) && knownSymbols[stripped] {
			return ID(stripped)
		}
	}

	return ID(s)
}

// IsFiat reports whether the canonical id names a recognized fiat currency.
func (id ID) IsFiat() bool {
	return fiatSet[string(id)]
}

// IsStablecoin reports whether the canonical id names a fiat-pegged
// stablecoin. Stablecoins are priced through the same oracle chain as any
// other asset rather than assumed peg-equals-one; callers that do this
// conversion attach a PartialPriceRecovery diagnostic.
func (id ID) IsStablecoin() bool {
	return stablecoinSet[string(id)]
}

// Recognized reports whether id is a fiat currency or a cryptocurrency
// symbol the engine has an explicit alias, known-symbol, or stablecoin
// table entry for. An unrecognized id still canonicalizes (uppercased
// as-is, rule 4) and is priced via the oracle if possible; the normalizer
// flags it with an UnmappedAsset diagnostic so a reviewer can decide
// whether it needs an alias table entry.
func Recognized(id ID) bool {
	s := string(id)
	if s == "" {
		return true
	}
	if fiatSet[s] || knownSymbols[s] || stablecoinSet[s] {
		return true
	}
	return s == "BTC"
}

// String renders the canonical id.
func (id ID) String() string { return string(id) }

// Equal reports whether two raw spellings canonicalize to the same asset.
func Equal(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}

// Aliases returns the set of historical spellings a LotBook should probe
// when looking up holdings for id: the canonical form first, then the
// X-prefixed form, then (for BTC) the XBT/XXBT forms, then (for fiat) the
// Z-prefixed form.
func Aliases(id ID) []string {
	s := string(id)
	aliases := []string{s}

	if id == "BTC" {
		aliases = append(aliases, "XBT", "XXBT")
		return aliases
	}

	if id.IsFiat() {
		aliases = append(aliases, "Z"+s)
		return aliases
	}

	if knownSymbols[s] {
		aliases = append(aliases, "X"+s)
	}
	return aliases
}
