// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package lotbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/txmodel"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPushAcquisitionIdempotent(t *testing.T) {
	b := New()
	lot := txmodel.HoldingLot{
		Asset: "BTC", RemainingUnits: money.MustParse("1"),
		UnitCostEUR: money.MustParse("20000"), AcquiredAt: day(2023, 1, 10), SourceRef: "B1",
	}
	assert.True(t, b.PushAcquisition(lot))
	assert.False(t, b.PushAcquisition(lot)) // same (ts, ref) re-ingestion is a no-op

	holdings := b.Holdings("BTC")
	require.Len(t, holdings, 1)
	assert.Equal(t, "1", holdings[0].RemainingUnits.String())
}

// TestFIFOPartialMatchAcrossTwoLots covers a disposal spanning two partial lots.
func TestFIFOPartialMatchAcrossTwoLots(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{
		Asset: "BTC", RemainingUnits: money.MustParse("0.5"),
		UnitCostEUR: money.MustParse("10000"), AcquiredAt: day(2023, 1, 1), SourceRef: "B1",
	})
	b.PushAcquisition(txmodel.HoldingLot{
		Asset: "BTC", RemainingUnits: money.MustParse("0.5"),
		UnitCostEUR: money.MustParse("20000"), AcquiredAt: day(2023, 2, 1), SourceRef: "B2",
	})

	result := b.MatchDisposal("BTC", day(2023, 3, 1), money.MustParse("0.75"))
	require.True(t, result.Shortfall.IsZero())
	require.Len(t, result.Matched, 2)

	assert.Equal(t, "B1", result.Matched[0].LotRef)
	assert.Equal(t, "0.5", result.Matched[0].UnitsConsumed.String())
	assert.Equal(t, "10000", result.Matched[0].UnitCostEUR.String())

	assert.Equal(t, "B2", result.Matched[1].LotRef)
	assert.Equal(t, "0.25", result.Matched[1].UnitsConsumed.String())
	assert.Equal(t, "20000", result.Matched[1].UnitCostEUR.String())

	remaining, err := b.RemainingUnits("BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.25", remaining.String())

	holdings := b.Holdings("BTC")
	require.Len(t, holdings, 1)
	assert.Equal(t, "B2", holdings[0].SourceRef)
}

func TestFIFOOrderingIsMonotonicNonDecreasing(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ETH", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("1000"), AcquiredAt: day(2022, 1, 1), SourceRef: "A"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ETH", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("2000"), AcquiredAt: day(2022, 6, 1), SourceRef: "B"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ETH", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("3000"), AcquiredAt: day(2023, 1, 1), SourceRef: "C"})

	result := b.MatchDisposal("ETH", day(2023, 6, 1), money.MustParse("2.5"))
	require.Len(t, result.Matched, 3)
	for i := 1; i < len(result.Matched); i++ {
		assert.False(t, result.Matched[i].AcquiredAt.Before(result.Matched[i-1].AcquiredAt))
	}
}

func TestMatchDisposalSkipsLotsAcquiredAfterDisposal(t *testing.T) {
	b := New()
	// A lot acquired after the disposal instant must never back it:
	// a lot cannot have been sold before it was bought.
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("30000"), AcquiredAt: day(2023, 6, 1), SourceRef: "future"})

	result := b.MatchDisposal("BTC", day(2023, 3, 1), money.MustParse("1"))
	assert.Equal(t, "1", result.Shortfall.String())
	assert.Empty(t, result.Matched)

	holdings := b.Holdings("BTC")
	require.Len(t, holdings, 1)
	assert.Equal(t, "1", holdings[0].RemainingUnits.String())
}

func TestMatchDisposalAliasLookup(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{Asset: "XBT", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("15000"), AcquiredAt: day(2021, 1, 1), SourceRef: "X1"})

	result := b.MatchDisposal("BTC", day(2022, 1, 1), money.MustParse("1"))
	require.True(t, result.Shortfall.IsZero())
	require.Len(t, result.Matched, 1)
	assert.Equal(t, "X1", result.Matched[0].LotRef)
}

func TestMatchDisposalShortfall(t *testing.T) {
	b := New()
	result := b.MatchDisposal("BTC", day(2023, 5, 1), money.MustParse("1"))
	assert.Equal(t, "1", result.Shortfall.String())
	assert.Empty(t, result.Matched)
}

func TestMatchDisposalTieBreakInsertionOrder(t *testing.T) {
	b := New()
	sameDay := day(2023, 1, 1)
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("0.5"), UnitCostEUR: money.MustParse("10000"), AcquiredAt: sameDay, SourceRef: "first"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("0.5"), UnitCostEUR: money.MustParse("11000"), AcquiredAt: sameDay, SourceRef: "second"})

	result := b.MatchDisposal("BTC", day(2023, 2, 1), money.MustParse("0.6"))
	require.Len(t, result.Matched, 2)
	assert.Equal(t, "first", result.Matched[0].LotRef)
	assert.Equal(t, "second", result.Matched[1].LotRef)
}

func TestConservationInvariant(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ADA", RemainingUnits: money.MustParse("100"), UnitCostEUR: money.MustParse("0.5"), AcquiredAt: day(2022, 1, 1), SourceRef: "A1"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ADA", RemainingUnits: money.MustParse("200"), UnitCostEUR: money.MustParse("0.6"), AcquiredAt: day(2022, 6, 1), SourceRef: "A2"})

	result := b.MatchDisposal(asset.ID("ADA"), day(2023, 1, 1), money.MustParse("150"))
	consumed := money.Zero
	for _, m := range result.Matched {
		consumed, _ = consumed.Add(m.UnitsConsumed)
	}

	remaining, err := b.RemainingUnits("ADA")
	require.NoError(t, err)

	pushed := money.MustParse("300")
	derived, err := pushed.Sub(consumed)
	require.NoError(t, err)
	assert.Equal(t, 0, derived.Cmp(remaining))
}

func TestDustResidualDeletesLot(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{
		Asset: "BTC", RemainingUnits: money.MustParse("1"),
		UnitCostEUR: money.MustParse("10000"), AcquiredAt: day(2023, 1, 1), SourceRef: "B1",
	})

	// Consuming all but a sub-epsilon residual must delete the lot rather
	// than leave a dust balance open.
	result := b.MatchDisposal("BTC", day(2023, 2, 1), money.MustParse("0.9999999999999"))
	require.True(t, result.Shortfall.IsZero())
	assert.Empty(t, b.Holdings("BTC"), "a sub-epsilon residual keeps no lot open")
}

func TestPushAcquisitionKeepsPerAssetOrder(t *testing.T) {
	b := New()
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("1"), AcquiredAt: day(2023, 1, 1), SourceRef: "A"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "ETH", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("1"), AcquiredAt: day(2023, 1, 2), SourceRef: "B"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("1"), AcquiredAt: day(2023, 1, 3), SourceRef: "C"})

	btc := b.Holdings("BTC")
	require.Len(t, btc, 2)
	assert.Equal(t, "A", btc[0].SourceRef)
	assert.Equal(t, "C", btc[1].SourceRef)

	eth := b.Holdings("ETH")
	require.Len(t, eth, 1)
	assert.Equal(t, "B", eth[0].SourceRef)
}

func TestPushAcquisitionOutOfOrderRestoresFIFO(t *testing.T) {
	b := New()
	// Pushed newest-first, e.g. an export fetched in reverse page order;
	// the queue must still match oldest lot first.
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("30000"), AcquiredAt: day(2023, 3, 1), SourceRef: "newer"})
	b.PushAcquisition(txmodel.HoldingLot{Asset: "BTC", RemainingUnits: money.MustParse("1"), UnitCostEUR: money.MustParse("10000"), AcquiredAt: day(2022, 1, 1), SourceRef: "older"})

	result := b.MatchDisposal("BTC", day(2023, 6, 1), money.MustParse("1"))
	require.Len(t, result.Matched, 1)
	assert.Equal(t, "older", result.Matched[0].LotRef)
	assert.Equal(t, "10000", result.Matched[0].UnitCostEUR.String())
}
