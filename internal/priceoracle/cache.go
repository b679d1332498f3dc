// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package priceoracle

import (
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/money"
)

// PersistentCache is the key/value contract a deployment plugs in to carry
// day-bucket prices across runs; a bolt- or file-backed store satisfies it,
// and so does eventsource.MemoryCache for tests. The oracle treats it as a
// second tier behind the in-memory LRU: consulted on an LRU miss, written
// through on every store.
type PersistentCache interface {
	Get(key string) (value []byte, found bool)
	Set(key string, value []byte)
}

// persistedPrice is the stored tuple: asset, day bucket, price, fetch time.
type persistedPrice struct {
	Asset     string      `json:"asset"`
	DayBucket int64       `json:"day_bucket"`
	PriceEUR  money.Money `json:"eur_price"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// dayBucket floors a timestamp to a UTC calendar day; historical prices
// are only ever resolved at daily granularity.
func dayBucket(ts time.Time) int64 {
	return ts.UTC().Unix() / 86400
}

type cacheEntry struct {
	price     money.Money
	fetchedAt time.Time
	bucket    int64
}

// dayCache is the oracle's in-memory price cache: an LRU-bounded map keyed
// by "asset:bucket", with a TTL applied only to buckets matching the current
// day. Past-day buckets are immutable (a historical close price never
// changes) and never expire.
type dayCache struct {
	lru     *lru.Cache[string, cacheEntry]
	persist PersistentCache // optional second tier, nil by default
	ttl     time.Duration
	now     func() time.Time
}

func newDayCache(size int, ttl time.Duration) *dayCache {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// Only occurs for a non-positive size, which is a programmer error.
		panic(err)
	}
	return &dayCache{lru: c, ttl: ttl, now: time.Now}
}

func cacheKey(id asset.ID, bucket int64) string {
	return fmt.Sprintf("%s:%d", id, bucket)
}

func (c *dayCache) get(id asset.ID, ts time.Time) (money.Money, bool) {
	bucket := dayBucket(ts)
	key := cacheKey(id, bucket)
	if entry, ok := c.lru.Get(key); ok {
		if c.fresh(entry.fetchedAt, bucket) {
			return entry.price, true
		}
		return money.Zero, false
	}
	if c.persist == nil {
		return money.Zero, false
	}
	blob, found := c.persist.Get(key)
	if !found {
		return money.Zero, false
	}
	var stored persistedPrice
	if err := json.Unmarshal(blob, &stored); err != nil || !c.fresh(stored.FetchedAt, bucket) {
		return money.Zero, false
	}
	c.lru.Add(key, cacheEntry{price: stored.PriceEUR, fetchedAt: stored.FetchedAt, bucket: bucket})
	return stored.PriceEUR, true
}

// fresh applies the TTL only to the current day's bucket; a past day's close
// never changes, so those entries never expire.
func (c *dayCache) fresh(fetchedAt time.Time, bucket int64) bool {
	return bucket != dayBucket(c.now()) || c.now().Sub(fetchedAt) < c.ttl
}

func (c *dayCache) set(id asset.ID, ts time.Time, price money.Money) {
	bucket := dayBucket(ts)
	key := cacheKey(id, bucket)
	fetchedAt := c.now()
	c.lru.Add(key, cacheEntry{price: price, fetchedAt: fetchedAt, bucket: bucket})
	if c.persist != nil {
		blob, err := json.Marshal(persistedPrice{
			Asset: string(id), DayBucket: bucket, PriceEUR: price, FetchedAt: fetchedAt,
		})
		if err == nil {
			c.persist.Set(key, blob)
		}
	}
}
