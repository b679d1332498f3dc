// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package priceoracle

import (
	"context"
	"fmt"
	"time"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/money"
)

// StaticTableProvider serves prices from an in-memory table keyed by
// (asset, day), for offline runs and deterministic test fixtures. It always
// supports every window; the absence of an entry is a plain miss, not a
// window rejection.
type StaticTableProvider struct {
	table map[string]money.Money
}

// NewStaticTableProvider builds an empty table.
func NewStaticTableProvider() *StaticTableProvider {
	return &StaticTableProvider{table: make(map[string]money.Money)}
}

// Set seeds a price for id on the calendar day containing ts.
func (p *StaticTableProvider) Set(id asset.ID, ts time.Time, price money.Money) {
	p.table[staticKey(id, ts)] = price
}

func staticKey(id asset.ID, ts time.Time) string {
	return fmt.Sprintf("%s:%d", id, dayBucket(ts))
}

func (p *StaticTableProvider) Name() string { return "static-table" }

func (p *StaticTableProvider) SupportsWindow(ts time.Time) bool { return true }

func (p *StaticTableProvider) Fetch(ctx context.Context, id asset.ID, ts time.Time) (money.Money, error) {
	price, ok := p.table[staticKey(id, ts)]
	if !ok {
		return money.Zero, fmt.Errorf("priceoracle: no static price for %s on %s: %w", id, ts.Format("2006-01-02"), ErrNotFound)
	}
	return price, nil
}
