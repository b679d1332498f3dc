// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package lotbook implements per-asset FIFO inventory tracking: the atomic
// acquire/dispose primitives the engine drives one transaction at a time.
// Each asset keeps an ordered queue of open lots, consumed front to back.
package lotbook

import (
	"container/list"
	"fmt"
	"time"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/txmodel"
)

// acquisitionKey identifies an already-ingested acquisition for idempotent
// re-ingestion: the same (ts, ref_id) pair pushed twice is a
// no-op on the second call.
type acquisitionKey struct {
	ts    int64
	refID string
}

// LotBook tracks open FIFO lots per canonical asset.
type LotBook struct {
	queues map[asset.ID]*list.List // each element is *txmodel.HoldingLot
	seen   map[acquisitionKey]bool
}

// New returns an empty LotBook.
func New() *LotBook {
	return &LotBook{
		queues: make(map[asset.ID]*list.List),
		seen:   make(map[acquisitionKey]bool),
	}
}

// PushAcquisition enqueues a new lot into its asset's FIFO queue, keeping
// the queue ordered by ascending AcquiredAt; lots sharing a timestamp keep
// their insertion order. Re-pushing the same (ts, ref_id) is a no-op,
// reported via the bool return.
func (b *LotBook) PushAcquisition(lot txmodel.HoldingLot) (pushed bool) {
	key := acquisitionKey{ts: lot.AcquiredAt.Unix(), refID: lot.SourceRef}
	if b.seen[key] {
		return false
	}
	b.seen[key] = true

	q, ok := b.queues[lot.Asset]
	if !ok {
		q = list.New()
		b.queues[lot.Asset] = q
	}
	for e := q.Back(); e != nil; e = e.Prev() {
		if !e.Value.(*txmodel.HoldingLot).AcquiredAt.After(lot.AcquiredAt) {
			q.InsertAfter(&lot, e)
			return true
		}
	}
	q.PushFront(&lot)
	return true
}

// MatchResult is the outcome of consuming lots against a disposal request.
type MatchResult struct {
	Matched   []txmodel.MatchedLot
	Shortfall money.Money // units requested but not covered by any open lot
}

// MatchDisposal consumes units (oldest lot first) from the queue for asset,
// probing the alias spellings asset.Aliases returns so a lot acquired under
// an exchange's historical ticker is still found. Lots are deleted once
// their remaining balance falls below money.Epsilon.
func (b *LotBook) MatchDisposal(id asset.ID, disposalTS time.Time, units money.Money) MatchResult {
	q := b.queueForAsset(id)
	remaining := units
	var matched []txmodel.MatchedLot

	if q == nil {
		return MatchResult{Shortfall: remaining}
	}

	var next *list.Element
	for e := q.Front(); e != nil && remaining.GreaterThan(money.Zero); e = next {
		next = e.Next()
		lot := e.Value.(*txmodel.HoldingLot)

		// A lot cannot have been sold before it was bought:
		// skip lots acquired after the disposal instant rather than
		// consuming them out of order.
		if lot.AcquiredAt.After(disposalTS) {
			continue
		}

		take := money.Min(remaining, lot.RemainingUnits)
		if take.IsZero() {
			continue
		}

		rate, err := lot.UnitCostEUR.DivUnits(money.One)
		if err != nil {
			continue
		}
		costBasis, err := take.MulRate(rate)
		if err != nil {
			continue
		}

		holdingDays := int(disposalTS.Sub(lot.AcquiredAt).Hours() / 24)
		matched = append(matched, txmodel.MatchedLot{
			LotRef:        lot.SourceRef,
			AcquiredAt:    lot.AcquiredAt,
			UnitsConsumed: take,
			UnitCostEUR:   lot.UnitCostEUR,
			CostBasisEUR:  costBasis,
			HoldingDays:   holdingDays,
		})

		newRemaining, err := lot.RemainingUnits.Sub(take)
		if err != nil {
			continue
		}
		lot.RemainingUnits = newRemaining

		remainingAfter, err := remaining.Sub(take)
		if err == nil {
			remaining = remainingAfter
		}

		if lot.RemainingUnits.IsNegligible() {
			q.Remove(e)
		}
	}

	return MatchResult{Matched: matched, Shortfall: remaining}
}

// queueForAsset finds the FIFO queue for id, probing historical alias
// spellings in the order asset.Aliases returns when the canonical queue is
// empty (an exchange export that mixes spellings across eras of the same
// account, ingested before canonicalization existed).
func (b *LotBook) queueForAsset(id asset.ID) *list.List {
	if q, ok := b.queues[id]; ok && q.Len() > 0 {
		return q
	}
	for _, alias := range asset.Aliases(id) {
		if q, ok := b.queues[asset.ID(alias)]; ok && q.Len() > 0 {
			return q
		}
	}
	return b.queues[id]
}

// Holdings returns a point-in-time snapshot of open lots for id, oldest
// first, for the audit trail and for tests.
func (b *LotBook) Holdings(id asset.ID) []txmodel.HoldingLot {
	q := b.queueForAsset(id)
	if q == nil {
		return nil
	}
	out := make([]txmodel.HoldingLot, 0, q.Len())
	for e := q.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*txmodel.HoldingLot))
	}
	return out
}

// RemainingUnits sums the open balance across every lot for id.
func (b *LotBook) RemainingUnits(id asset.ID) (money.Money, error) {
	total := money.Zero
	for _, lot := range b.Holdings(id) {
		sum, err := total.Add(lot.RemainingUnits)
		if err != nil {
			return money.Zero, fmt.Errorf("lotbook: summing holdings for %s: %w", id, err)
		}
		total = sum
	}
	return total, nil
}
