// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package normalize turns the loosely typed RawEvent records an EventSource
// yields into strongly typed txmodel.Transaction values, applying a fixed
// sequence of classification rules: fiat-movement filtering, trade-pair
// splitting, sign-driven buy/sell inference, crypto-crypto leg pairing,
// reward subtyping, and a future-timestamp guard. This is the sole boundary
// where dynamic-typed event maps become typed values; everything downstream
// pattern-matches on Transaction.Kind.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/eventsource"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/taxrules"
	"kryptosteuer/internal/txmodel"
)

// pairWindow is the ±120s tolerance allowed when pairing two raw events
// that share a ref id into one crypto-crypto trade (rule 4). Fiat
// movements are never paired.
const pairWindow = 120 * time.Second

// futureTimestampSlack is the tolerance beyond which a timestamp is
// clamped to "now".
const futureTimestampSlack = 60 * time.Second

// Normalizer classifies raw events into typed Transactions.
type Normalizer struct {
	log logging.Logger
	now func() time.Time
}

// New builds a Normalizer. now defaults to time.Now; tests override it via
// WithClock for deterministic future-timestamp-guard behavior.
func New(log logging.Logger) *Normalizer {
	return &Normalizer{log: log, now: time.Now}
}

// WithClock overrides the normalizer's notion of "now", used by the
// future-timestamp guard (rule 6).
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// parsedEvent is the intermediate, still-loosely-typed representation after
// pulling the common fields out of a RawEvent but before classification.
type parsedEvent struct {
	raw         eventsource.RawEvent
	refID       string
	ts          time.Time
	rawType     string
	rawSubtype  string
	assetRaw    string
	pairRaw     string
	amount      money.Money
	fee         money.Money
	feeAssetRaw string
	cost        money.Money
	price       money.Money
	hasCost     bool
	hasPrice    bool
	ok          bool
}

// Normalize classifies every raw event into a Transaction, collecting
// diagnostics for malformed or ambiguous records. Events missing a required
// key are skipped with a MalformedEvent diagnostic.
func (n *Normalizer) Normalize(events []eventsource.RawEvent) ([]txmodel.Transaction, []diagnostics.Diagnostic) {
	var diags []diagnostics.Diagnostic
	add := func(d diagnostics.Diagnostic) { diags = append(diags, d) }

	parsed := make([]parsedEvent, 0, len(events))
	for _, e := range events {
		pe := n.parse(e)
		if !pe.ok {
			add(diagnostics.New(diagnostics.MalformedEvent, diagnostics.Warn, e.RefID(),
				"event missing required ref_id or time field", n.now()))
			continue
		}
		parsed = append(parsed, pe)
	}

	groups := groupByRefID(parsed)

	var txs []txmodel.Transaction
	consumed := make(map[int]bool)
	for _, group := range groups {
		legTxs, legDiags := n.classifyGroup(group, parsed, consumed)
		txs = append(txs, legTxs...)
		diags = append(diags, legDiags...)
	}

	return txs, diags
}

func (n *Normalizer) parse(e eventsource.RawEvent) parsedEvent {
	refID := e.RefID()
	timeStr := eventsource.FirstNonEmpty(e, "time", "date", "datetime")
	if refID == "" || timeStr == "" {
		return parsedEvent{ok: false}
	}
	ts, err := eventsource.ParseTimeGuess(timeStr)
	if err != nil {
		return parsedEvent{ok: false}
	}

	amountStr := eventsource.FirstNonEmpty(e, "vol", "amount", "qty")
	amount, err := money.Parse(fallbackZero(amountStr))
	if err != nil {
		amount = money.Zero
	}

	feeStr := eventsource.FirstNonEmpty(e, "fee")
	fee, err := money.Parse(fallbackZero(feeStr))
	if err != nil {
		fee = money.Zero
	}

	costStr := eventsource.FirstNonEmpty(e, "cost", "value", "proceeds")
	cost, hasCost := money.Zero, false
	if costStr != "" {
		if c, err := money.Parse(costStr); err == nil {
			cost, hasCost = c, true
		}
	}

	priceStr := eventsource.FirstNonEmpty(e, "price")
	price, hasPrice := money.Zero, false
	if priceStr != "" {
		if p, err := money.Parse(priceStr); err == nil {
			price, hasPrice = p, true
		}
	}

	return parsedEvent{
		raw:         e,
		refID:       refID,
		ts:          ts,
		rawType:     strings.ToLower(eventsource.FirstNonEmpty(e, "type", "tx_type")),
		rawSubtype:  strings.ToLower(eventsource.FirstNonEmpty(e, "subtype")),
		assetRaw:    eventsource.FirstNonEmpty(e, "asset", "pair", "symbol"),
		pairRaw:     eventsource.FirstNonEmpty(e, "pair"),
		amount:      amount,
		fee:         fee,
		feeAssetRaw: eventsource.FirstNonEmpty(e, "fee_asset", "feecurrency"),
		cost:        cost,
		price:       price,
		hasCost:     hasCost,
		hasPrice:    hasPrice,
		ok:          true,
	}
}

func fallbackZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

// groupByRefID buckets parsed events sharing a reference id, preserving
// encounter order; the natural unit for pairing a crypto-crypto trade's
// two ledger legs (rule 4).
func groupByRefID(events []parsedEvent) [][]int {
	order := make([]string, 0)
	byRef := make(map[string][]int)
	for i, e := range events {
		if _, ok := byRef[e.refID]; !ok {
			order = append(order, e.refID)
		}
		byRef[e.refID] = append(byRef[e.refID], i)
	}
	groups := make([][]int, 0, len(order))
	for _, ref := range order {
		groups = append(groups, byRef[ref])
	}
	return groups
}

// splitPair splits a pair string like "BTC/EUR" or the concatenated
// historical form "XBTEUR" into (base, quote), applying rule 2.
func splitPair(pair string) (base, quote asset.ID, ok bool) {
	if pair == "" {
		return "", "", false
	}
	if strings.Contains(pair, "/") {
		parts := strings.SplitN(pair, "/", 2)
		return asset.Canonicalize(parts[0]), asset.Canonicalize(parts[1]), true
	}
	// Concatenated historical form: try every known fiat/quote suffix.
	for _, q := range []string{"EUR", "USD", "GBP", "JPY", "CAD", "AUD", "CHF", "BTC", "ETH", "USDT", "USDC"} {
		upper := strings.ToUpper(pair)
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			base := upper[:len(upper)-len(q)]
			return asset.Canonicalize(base), asset.Canonicalize(q), true
		}
	}
	return "", "", false
}

// classifyGroup applies rules 1, 3, 4, 5, 6 to one reference-id group,
// producing zero or more Transactions plus diagnostics.
func (n *Normalizer) classifyGroup(groupIdx []int, all []parsedEvent, consumed map[int]bool) ([]txmodel.Transaction, []diagnostics.Diagnostic) {
	var txs []txmodel.Transaction
	var diags []diagnostics.Diagnostic

	// Rule 4: look for a crypto-crypto trade pair within the group; two
	// legs sharing a ref id, within the pairing window, opposing sign,
	// both non-fiat.
	for i := 0; i < len(groupIdx); i++ {
		if consumed[groupIdx[i]] {
			continue
		}
		a := all[groupIdx[i]]
		aAsset := asset.Canonicalize(a.assetRaw)
		if aAsset.IsFiat() || aAsset == "" {
			continue
		}
		for j := i + 1; j < len(groupIdx); j++ {
			if consumed[groupIdx[j]] {
				continue
			}
			b := all[groupIdx[j]]
			bAsset := asset.Canonicalize(b.assetRaw)
			if bAsset.IsFiat() || bAsset == "" {
				continue
			}
			if absDuration(a.ts.Sub(b.ts)) > pairWindow {
				continue
			}
			if sign(a.amount) == sign(b.amount) || sign(a.amount) == 0 || sign(b.amount) == 0 {
				continue
			}
			consumed[groupIdx[i]] = true
			consumed[groupIdx[j]] = true

			disposalLeg, acquisitionLeg := a, b
			if a.amount.IsPositive() {
				disposalLeg, acquisitionLeg = b, a
			}
			tx, tDiags := n.buildCryptoCryptoTrade(disposalLeg, acquisitionLeg)
			txs = append(txs, tx)
			diags = append(diags, tDiags...)
		}
	}

	for _, idx := range groupIdx {
		if consumed[idx] {
			continue
		}
		e := all[idx]
		tx, tDiags := n.classifySingle(e)
		consumed[idx] = true
		txs = append(txs, tx)
		diags = append(diags, tDiags...)
	}

	return txs, diags
}

func sign(m money.Money) int {
	switch {
	case m.IsPositive():
		return 1
	case m.IsNegative():
		return -1
	default:
		return 0
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// buildCryptoCryptoTrade combines two opposing-sign legs sharing a ref id
// into one CryptoCryptoTrade transaction, rule 4. The disposed leg's
// negative amount becomes Transaction.Amount; the acquired leg becomes
// Transaction.Received. The fee attaches to the disposal leg, converted via
// an oracle call the caller (engine) performs if the fee asset is not EUR.
func (n *Normalizer) buildCryptoCryptoTrade(disposal, acquisition parsedEvent) (txmodel.Transaction, []diagnostics.Diagnostic) {
	ts, diags := n.guardFutureTimestamp(disposal.ts, disposal.refID)

	disposalAsset := asset.Canonicalize(disposal.assetRaw)
	acquisitionAsset := asset.Canonicalize(acquisition.assetRaw)
	diags = append(diags, n.unmappedAssetDiagnostics(ts, disposal.refID, disposalAsset, acquisitionAsset)...)

	feeAsset := disposalAsset
	if disposal.feeAssetRaw != "" {
		feeAsset = asset.Canonicalize(disposal.feeAssetRaw)
	}

	tx := txmodel.Transaction{
		RefID:      disposal.refID,
		TS:         ts,
		Kind:       txmodel.KindCryptoCryptoTrade,
		Asset:      disposalAsset,
		Amount:     disposal.amount.Abs().Neg(),
		QuoteAsset: ptr(acquisitionAsset),
		FeeAmount:  disposal.fee,
		FeeAsset:   feeAsset,
		SourceYear: ts.Year(),
		Received: &txmodel.ReceivedLeg{
			Asset:  acquisitionAsset,
			Amount: acquisition.amount.Abs(),
			RefID:  txmodel.SyntheticRefID(disposal.refID, "received"),
		},
		RawType:    disposal.rawType,
		RawSubtype: disposal.rawSubtype,
	}
	return tx, diags
}

// unmappedAssetDiagnostics flags any of the given canonical ids that fell
// through Canonicalize's rules unrecognized (rule 4's bare uppercase
// fallback, not a fiat/BTC/known-symbol/stablecoin match).
func (n *Normalizer) unmappedAssetDiagnostics(ts time.Time, refID string, ids ...asset.ID) []diagnostics.Diagnostic {
	var diags []diagnostics.Diagnostic
	seen := make(map[asset.ID]bool, len(ids))
	for _, id := range ids {
		if id == "" || id.IsFiat() || seen[id] || asset.Recognized(id) {
			continue
		}
		seen[id] = true
		diags = append(diags, diagnostics.New(diagnostics.UnmappedAsset, diagnostics.Warn, refID,
			fmt.Sprintf("asset symbol %q has no alias/known-symbol table entry; using it verbatim", id), ts))
	}
	return diags
}

// classifySingle applies rules 1, 3, 5, 6 to a single ungrouped event.
func (n *Normalizer) classifySingle(e parsedEvent) (txmodel.Transaction, []diagnostics.Diagnostic) {
	ts, diags := n.guardFutureTimestamp(e.ts, e.refID)

	a := asset.Canonicalize(e.assetRaw)
	var quote asset.ID
	if base, q, ok := splitPair(e.pairRaw); ok {
		a, quote = base, q
	}

	kind, rewardKind := n.inferKind(e, a, quote)
	if kind == txmodel.KindReward && rewardKind == taxrules.RewardUnknown {
		diags = append(diags, diagnostics.New(diagnostics.AmbiguousClassification, diagnostics.Warn, e.refID,
			"reward subtype could not be determined from raw type/subtype, defaulting to unknown", ts))
	}
	diags = append(diags, n.unmappedAssetDiagnostics(ts, e.refID, a, quote)...)

	// Fee denomination, when the export doesn't state it: trades carry the
	// fee in the quote currency, plain ledger rows in the row's own asset.
	feeAsset := a
	switch {
	case e.feeAssetRaw != "":
		feeAsset = asset.Canonicalize(e.feeAssetRaw)
	case quote != "":
		feeAsset = quote
	case e.hasPrice || e.hasCost:
		feeAsset = "EUR"
	}

	var quoteAmount *money.Money
	if e.hasCost {
		quoteAmount = ptr(e.cost)
	}
	var unitPrice *money.Money
	if e.hasPrice {
		unitPrice = ptr(e.price)
	} else if e.hasCost && !e.amount.IsZero() {
		if rate, err := e.cost.Abs().DivUnits(e.amount.Abs()); err == nil {
			up, _ := money.One.MulRate(rate)
			unitPrice = ptr(up)
		}
	}

	var qp *asset.ID
	if quote != "" {
		qp = ptr(quote)
	}

	tx := txmodel.Transaction{
		RefID:       e.refID,
		TS:          ts,
		Kind:        kind,
		RewardKind:  rewardKind,
		Asset:       a,
		Amount:      e.amount,
		QuoteAsset:  qp,
		QuoteAmount: quoteAmount,
		UnitPrice:   unitPrice,
		FeeAmount:   e.fee,
		FeeAsset:    feeAsset,
		SourceYear:  ts.Year(),
		RawType:     e.rawType,
		RawSubtype:  e.rawSubtype,
	}
	return tx, diags
}

// inferKind applies rules 1, 3, 5: fiat-movement filtering, sign-driven
// acquisition/disposal, and reward subtyping.
func (n *Normalizer) inferKind(e parsedEvent, a, quote asset.ID) (txmodel.Kind, taxrules.RewardSubtype) {
	rawType := e.rawType

	// Rule 5: reward subtyping takes priority over sign-based inference
	// a staking payout is still a reward even though its amount is positive
	// (which sign-inference alone would also classify as Buy).
	if isRewardType(rawType) {
		return txmodel.KindReward, inferRewardSubtype(rawType, e.rawSubtype)
	}

	// Rule 1: a fiat deposit/withdrawal/spend is an internal transfer,
	// non-taxable with no lot effect. classifyGroup skips fiat legs when
	// pairing and no search for a crypto counterpart event is made, so every
	// such fiat movement is classified this way.
	if a.IsFiat() {
		switch rawType {
		case "deposit", "withdrawal", "spend":
			return txmodel.KindInternalTransfer, taxrules.RewardUnknown
		}
	}

	switch rawType {
	case "deposit":
		return txmodel.KindDeposit, taxrules.RewardUnknown
	case "withdrawal":
		return txmodel.KindWithdrawal, taxrules.RewardUnknown
	case "transfer":
		return txmodel.KindInternalTransfer, taxrules.RewardUnknown
	}

	// Rule 3: amount sign drives kind for ordinary trades.
	if e.amount.IsPositive() {
		if quote == "" || quote.IsFiat() {
			return txmodel.KindBuy, taxrules.RewardUnknown
		}
		return txmodel.KindCryptoCryptoTrade, taxrules.RewardUnknown
	}
	if e.amount.IsNegative() {
		if quote == "" || quote.IsFiat() {
			return txmodel.KindSell, taxrules.RewardUnknown
		}
		return txmodel.KindCryptoCryptoTrade, taxrules.RewardUnknown
	}

	return txmodel.KindUnknown, taxrules.RewardUnknown
}

func isRewardType(rawType string) bool {
	switch {
	case strings.Contains(rawType, "stak"):
		return true
	case strings.Contains(rawType, "reward"):
		return true
	case strings.Contains(rawType, "payment"):
		return true
	case strings.Contains(rawType, "bonus"):
		return true
	case strings.Contains(rawType, "airdrop"):
		return true
	case strings.Contains(rawType, "fork"):
		return true
	case strings.Contains(rawType, "mining"):
		return true
	case strings.Contains(rawType, "lending"):
		return true
	default:
		return false
	}
}

// inferRewardSubtype maps raw type/subtype substrings to a RewardSubtype.
// Substring matching, not equality: exchanges embed the reward kind inside
// longer composite type strings.
func inferRewardSubtype(rawType, rawSubtype string) taxrules.RewardSubtype {
	combined := rawType + " " + rawSubtype
	switch {
	case strings.Contains(combined, "stak"):
		return taxrules.RewardStaking
	case strings.Contains(combined, "lend"):
		return taxrules.RewardLending
	case strings.Contains(combined, "min"):
		return taxrules.RewardMining
	case strings.Contains(combined, "airdrop"):
		return taxrules.RewardAirdrop
	case strings.Contains(combined, "fork"):
		return taxrules.RewardFork
	default:
		return taxrules.RewardUnknown
	}
}

// guardFutureTimestamp applies rule 6: clamp to now if ts is more than 60s
// in the future, emitting a FutureTimestamp warning.
func (n *Normalizer) guardFutureTimestamp(ts time.Time, refID string) (time.Time, []diagnostics.Diagnostic) {
	now := n.now()
	if ts.Sub(now) > futureTimestampSlack {
		d := diagnostics.New(diagnostics.FutureTimestamp, diagnostics.Warn, refID,
			"event timestamp is in the future; clamped to current time", now)
		return now, []diagnostics.Diagnostic{d}
	}
	return ts, nil
}

func ptr[T any](v T) *T { return &v }
