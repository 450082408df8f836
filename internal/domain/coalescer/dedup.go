package coalescer

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// deduplicator remembers recently accepted signatures.
//
// Entries are only re-added on acceptance, so LRU recency order equals
// last-seen order and pruning can stop at the first fresh entry.
type deduplicator struct {
	window time.Duration
	seen   *lru.Cache[string, time.Time]
}

func newDeduplicator(window time.Duration, capacity int) *deduplicator {
	// [MEMORY_BOUND] Capacity only caps pathological bursts; eviction makes
	// dedup more permissive, never stricter.
	seen, err := lru.New[string, time.Time](capacity)
	if err != nil {
		seen, _ = lru.New[string, time.Time](DefaultDedupCapacity)
	}
	return &deduplicator{window: window, seen: seen}
}

// seenRecently reports whether sig was accepted within the window. A fresh
// signature is recorded with now. Stale entries are pruned on every call.
func (d *deduplicator) seenRecently(sig string, now time.Time) bool {
	d.prune(now)

	if sig == "" {
		return false
	}
	if last, ok := d.seen.Peek(sig); ok && now.Sub(last) < d.window {
		return true
	}
	d.seen.Add(sig, now)
	return false
}

func (d *deduplicator) prune(now time.Time) {
	horizon := 2 * d.window
	for {
		key, last, ok := d.seen.GetOldest()
		if !ok || now.Sub(last) <= horizon {
			return
		}
		d.seen.Remove(key)
	}
}

func (d *deduplicator) len() int { return d.seen.Len() }

func (d *deduplicator) reset() { d.seen.Purge() }
