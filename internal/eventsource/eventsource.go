// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package eventsource defines the abstract feed of raw exchange events the
// engine consumes, plus CSV- and JSON-backed implementations and a
// key/value caching decorator. Exchange connectivity (HTTP, pagination,
// signing) is explicitly out of scope; this package only
// defines the contract and a local-file source suitable for already-exported
// account data.
package eventsource

import (
	"context"
	"time"
)

// RawEvent is a loosely typed record as it arrives from an exchange export:
// a string-keyed map. Normalizer is
// the sole place this gets turned into a typed Transaction.
type RawEvent map[string]string

// RefID returns the event's reference id under any of the common column
// names (ref_id, refid, txid, id), or "" if none is present.
func (e RawEvent) RefID() string {
	return FirstNonEmpty(e, "ref_id", "refid", "txid", "id")
}

// FirstNonEmpty returns the first non-blank value among the given keys.
func FirstNonEmpty(e RawEvent, keys ...string) string {
	for _, k := range keys {
		if v, ok := e[k]; ok {
			if trimmed := trimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// EventSource yields raw exchange events within [start, end], chronological
// ordering not guaranteed; the engine is responsible for sorting.
type EventSource interface {
	Fetch(ctx context.Context, start, end time.Time) ([]RawEvent, error)
}

// Cache is the abstract key/value store a caching EventSource or
// PriceOracle implementation may use. Persistent caching is an external
// collaborator; this is the interface the core depends on,
// not an implementation choice.
type Cache interface {
	Get(key string) (value []byte, found bool)
	Set(key string, value []byte)
}

// MemoryCache is an in-process Cache, useful for tests and as the default
// when no persistent cache is configured.
type MemoryCache struct {
	data map[string][]byte
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *MemoryCache) Set(key string, value []byte) {
	c.data[key] = value
}
