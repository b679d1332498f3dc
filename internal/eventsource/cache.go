// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package eventsource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CachingEventSource wraps another EventSource with a key/value Cache keyed
// by reference id. The Cache backend is the caller's choice; persistent
// caching is deployment concern, not engine logic.
type CachingEventSource struct {
	Inner EventSource
	Cache Cache
}

// NewCachingEventSource wraps inner with cache.
func NewCachingEventSource(inner EventSource, cache Cache) *CachingEventSource {
	return &CachingEventSource{Inner: inner, Cache: cache}
}

// Fetch always queries Inner for the whole range. For each returned event
// whose ref id is already cached, the cached copy is returned in place of
// the fresh one; events not yet cached are stored. A cache entry that still
// decodes is never replaced, so the first observation of a ref id wins over
// later ones.
func (c *CachingEventSource) Fetch(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	events, err := c.Inner.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]RawEvent, 0, len(events))
	for _, e := range events {
		ref := e.RefID()
		if ref == "" {
			out = append(out, e)
			continue
		}
		key := cacheKey(ref)
		if cached, found := c.Cache.Get(key); found {
			var restored RawEvent
			if err := json.Unmarshal(cached, &restored); err == nil {
				out = append(out, restored)
				continue
			}
		}
		blob, err := json.Marshal(e)
		if err == nil {
			c.Cache.Set(key, blob)
		}
		out = append(out, e)
	}
	return out, nil
}

func cacheKey(refID string) string {
	return fmt.Sprintf("event:%s", refID)
}
