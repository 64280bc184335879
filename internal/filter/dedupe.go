package filter

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DedupeFilter collapses repeated identical events, keyed by the caller
type DedupeFilter struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration // 0 = consecutive only
	seen    map[string]*dedupeEntry
	lastKey string
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// NewDedupeFilter creates a new deduplication filter.
// window=0 only collapses consecutive identical keys;
// window>0 collapses identical keys seen within the window.
func NewDedupeFilter(clk clock.Clock, window time.Duration) *DedupeFilter {
	if clk == nil {
		clk = clock.New()
	}
	return &DedupeFilter{
		clock:  clk,
		window: window,
		seen:   make(map[string]*dedupeEntry),
	}
}

// DedupeResult holds the result of a dedupe check
type DedupeResult struct {
	ShouldEmit bool
	Count      int // 1 = first occurrence
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Check determines whether an event with this key should be emitted
func (f *DedupeFilter) Check(key string) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if f.window > 0 {
		f.cleanOldEntries(now)
	}

	if existing, ok := f.seen[key]; ok && (f.window > 0 || f.lastKey == key) {
		existing.count++
		existing.lastSeen = now
		return DedupeResult{
			Count:     existing.count,
			FirstSeen: existing.firstSeen,
			LastSeen:  existing.lastSeen,
		}
	}

	f.seen[key] = &dedupeEntry{count: 1, firstSeen: now, lastSeen: now}
	f.lastKey = key
	return DedupeResult{ShouldEmit: true, Count: 1, FirstSeen: now, LastSeen: now}
}

// Reset clears the deduplication state
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
	f.lastKey = ""
}

func (f *DedupeFilter) cleanOldEntries(now time.Time) {
	cutoff := now.Add(-f.window)
	for key, entry := range f.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
