// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package txmodel holds the typed value objects shared across the
// normalizer, lot book, engine, aggregator, and reporters: Transaction,
// HoldingLot, MatchedLot, DisposalRecord, and YearSummary. Keeping them in
// one leaf package (rather than, say, defining Transaction inside
// normalize) avoids an import cycle, since both engine and report need the
// normalizer's output type without needing the normalizer itself.
package txmodel

import (
	"time"

	"github.com/google/uuid"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/taxrules"
)

// syntheticRefNamespace seeds deterministic, name-based synthetic reference
// ids for transaction legs an exchange export doesn't give their own ref
// id, e.g. the acquisition leg of a CryptoCryptoTrade, which the raw export
// shares one ref id for across both legs.
var syntheticRefNamespace = uuid.MustParse("7f3b6f0e-8a1a-4c9a-9b36-1d6c0f4a5e21")

// SyntheticRefID deterministically derives a stable reference id for a
// transaction leg with no ref id of its own, from its parent's ref id and a
// role tag. Uses uuid.NewSHA1 (name-based, deterministic) rather than
// uuid.New() (random) so repeated runs over the same input produce
// byte-identical output, per the engine's determinism invariant.
func SyntheticRefID(parentRefID, role string) string {
	return uuid.NewSHA1(syntheticRefNamespace, []byte(parentRefID+":"+role)).String()
}

// Kind is the normalized transaction classification: an enum plus an
// optional payload (Transaction.Received) for the one variant that carries
// extra data.
type Kind int

const (
	KindUnknown Kind = iota
	KindBuy
	KindSell
	KindCryptoCryptoTrade
	KindDeposit
	KindWithdrawal
	KindReward
	KindInternalTransfer
)

func (k Kind) String() string {
	switch k {
	case KindBuy:
		return "Buy"
	case KindSell:
		return "Sell"
	case KindCryptoCryptoTrade:
		return "CryptoCryptoTrade"
	case KindDeposit:
		return "Deposit"
	case KindWithdrawal:
		return "Withdrawal"
	case KindReward:
		return "Reward"
	case KindInternalTransfer:
		return "InternalTransfer"
	default:
		return "Unknown"
	}
}

// IsDisposal reports whether a transaction of this kind reduces inventory
// and potentially realizes gain/loss through the FIFO lot book.
// CryptoCryptoTrade is only a disposal on its negative (disposed) leg; the
// Normalizer sets Transaction.Amount negative for that leg, so callers
// should additionally check Amount's sign for CryptoCryptoTrade.
// KindWithdrawal is deliberately excluded: withdrawal-as-disposal is
// legally unresolved and the engine does not guess; a withdrawal is a
// no-op for lot accounting, flagged for manual review.
func (k Kind) IsDisposal() bool {
	return k == KindSell || k == KindCryptoCryptoTrade
}

// IsAcquisition reports whether a transaction of this kind adds inventory.
func (k Kind) IsAcquisition() bool {
	return k == KindBuy || k == KindCryptoCryptoTrade || k == KindReward || k == KindDeposit
}

// ReceivedLeg describes the acquisition side of a CryptoCryptoTrade: the
// asset and amount received in exchange for the disposed leg.
type ReceivedLeg struct {
	Asset  asset.ID
	Amount money.Money
	// RefID is a synthetic id (SyntheticRefID) distinct from the parent
	// Transaction's RefID, so the acquisition leg's HoldingLot.SourceRef
	// doesn't collide with the disposal leg sharing the raw export's ref id.
	RefID string
}

// Transaction is the Normalizer's typed output.
type Transaction struct {
	RefID       string
	TS          time.Time
	Kind        Kind
	RewardKind  taxrules.RewardSubtype // only meaningful when Kind == KindReward
	Asset       asset.ID
	Amount      money.Money // signed: positive acquisition, negative disposal
	QuoteAsset  *asset.ID
	QuoteAmount *money.Money
	UnitPrice   *money.Money
	FeeAmount   money.Money
	FeeAsset    asset.ID
	SourceYear  int
	Notes       string

	Received *ReceivedLeg // set only for KindCryptoCryptoTrade

	// RawType/RawSubtype retain the exchange's original strings for the
	// audit trail, so classification decisions stay reviewable after
	// the fact.
	RawType    string
	RawSubtype string
}

// AcquisitionKind narrows Kind to the lifecycle tag a HoldingLot carries.
type AcquisitionKind int

const (
	AcqBuy AcquisitionKind = iota
	AcqReward
	AcqDeposit
)

func (a AcquisitionKind) String() string {
	switch a {
	case AcqBuy:
		return "Buy"
	case AcqReward:
		return "Reward"
	case AcqDeposit:
		return "Deposit"
	default:
		return "Unknown"
	}
}

// HoldingLot is a discrete quantity of an asset acquired at one unit cost
// and timestamp; the atom of FIFO inventory accounting.
type HoldingLot struct {
	Asset           asset.ID
	RemainingUnits  money.Money
	UnitCostEUR     money.Money
	AcquiredAt      time.Time
	SourceRef       string
	AcquisitionKind AcquisitionKind
	Source          string // free-text provenance tag, e.g. "kraken", "reward"
}

// CostBasis returns RemainingUnits * UnitCostEUR.
func (l HoldingLot) CostBasis() (money.Money, error) {
	rate, err := l.UnitCostEUR.DivUnits(money.One)
	if err != nil {
		return money.Zero, err
	}
	return l.RemainingUnits.MulRate(rate)
}

// MatchedLot records one FIFO lot's contribution to a disposal.
type MatchedLot struct {
	LotRef        string
	AcquiredAt    time.Time
	UnitsConsumed money.Money
	UnitCostEUR   money.Money
	CostBasisEUR  money.Money
	HoldingDays   int
}

// DisposalRecord is the engine's per-disposal output: the full FIFO
// decomposition, EUR valuation, and holding-period classification of one
// disposal event.
type DisposalRecord struct {
	RefID                  string
	TS                     time.Time
	Asset                  asset.ID
	UnitsDisposed          money.Money
	UnitSalePriceEUR       money.Money
	GrossProceedsEUR       money.Money
	FeeEUR                 money.Money
	TotalCostBasisEUR      money.Money
	NetGainLossEUR         money.Money
	MatchedLots            []MatchedLot
	WeightedAvgHoldingDays int
	FullyLongTerm          bool
	PartiallyShortTerm     bool
	TaxYear                int
	Diagnostics            []diagnostics.Diagnostic
}

// YearSummary is the Aggregator's per-tax-year output.
type YearSummary struct {
	TaxYear               int
	ShortTermGains        money.Money
	ShortTermLosses       money.Money
	LongTermGains         money.Money
	OtherIncome           money.Money
	NetPrivateSales       money.Money
	PrivateSalesThreshold money.Money
	OtherIncomeThreshold  money.Money
	PrivateSalesTaxable   bool
	OtherIncomeTaxable    bool
	Diagnostics           []diagnostics.Diagnostic
}
