// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package priceoracle resolves EUR/unit prices at a point in time from an
// ordered chain of providers, each declaring the historical window it can
// serve, backed by a day-bucketed cache.
package priceoracle

import (
	"context"
	"errors"
	"time"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/money"
)

// ErrNotFound is returned (wrapped) when every configured provider declined
// or failed to produce a price for the requested asset/timestamp.
var ErrNotFound = errors.New("priceoracle: price not found")

// ErrTimeout is returned in place of ErrNotFound when no provider produced
// a price and at least one of them exceeded its deadline; the engine treats
// this identically to ErrNotFound.
var ErrTimeout = errors.New("priceoracle: provider timed out")

// Provider is one historical-price source in the oracle's fallback chain.
type Provider interface {
	// Name identifies the provider for logging and diagnostics.
	Name() string
	// SupportsWindow reports whether this provider should be consulted for
	// the given timestamp at all (e.g. a free-tier API that only serves the
	// last 365 days). The oracle skips providers that return false here
	// rather than calling Fetch and discarding a guaranteed failure.
	SupportsWindow(ts time.Time) bool
	// Fetch returns the EUR/unit price for asset at ts, or an error if this
	// provider could not produce one. A nil, nil return is not a valid
	// response; return ErrNotFound explicitly.
	Fetch(ctx context.Context, id asset.ID, ts time.Time) (money.Money, error)
}

// Oracle composes an ordered provider chain with a day-bucketed cache.
type Oracle struct {
	providers []Provider
	cache     *dayCache
	log       logging.Logger
}

// Option configures an Oracle at construction time.
type Option func(*Oracle)

// WithLogger attaches a logger used for resolved prices and provider
// timeouts.
func WithLogger(l logging.Logger) Option {
	return func(o *Oracle) { o.log = l }
}

// WithCacheTTL overrides the default 24h TTL applied to the current day's
// cache bucket. Past-day buckets never expire regardless of this setting
// see dayCache for the rationale.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Oracle) { o.cache.ttl = ttl }
}

// WithPersistentCache attaches a second cache tier that outlives the
// process, storing {asset, day_bucket, eur_price, fetched_at} tuples keyed
// the same way as the in-memory LRU. The backend is the caller's choice.
func WithPersistentCache(c PersistentCache) Option {
	return func(o *Oracle) { o.cache.persist = c }
}

// New builds an Oracle consulting providers in the given order.
func New(providers []Provider, opts ...Option) *Oracle {
	o := &Oracle{
		providers: providers,
		cache:     newDayCache(4096, 24*time.Hour),
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PriceEUR returns the EUR/unit price for id at ts:
//  1. EUR itself is always 1.
//  2. Consult the day-bucketed cache.
//  3. On miss, try each provider in declared order, skipping any whose
//     SupportsWindow rejects ts, until one succeeds.
//  4. If every provider fails, return ErrNotFound, or ErrTimeout when at
//     least one provider timed out; the caller (engine) substitutes
//     money.Zero and raises a MissingPrice diagnostic for either.
func (o *Oracle) PriceEUR(ctx context.Context, id asset.ID, ts time.Time) (money.Money, error) {
	if id == "EUR" {
		return money.One, nil
	}

	if cached, ok := o.cache.get(id, ts); ok {
		return cached, nil
	}

	timedOut := false
	for _, p := range o.providers {
		if !p.SupportsWindow(ts) {
			continue
		}
		price, err := p.Fetch(ctx, id, ts)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				timedOut = true
				o.log.Warning("PriceTimeout", "provider timed out", map[string]any{"provider": p.Name(), "asset": string(id)})
			}
			continue
		}
		o.cache.set(id, ts, price)
		o.log.Event("price resolved", map[string]any{"provider": p.Name(), "asset": string(id), "price_eur": price.String()})
		return price, nil
	}

	if timedOut {
		return money.Zero, ErrTimeout
	}
	return money.Zero, ErrNotFound
}
