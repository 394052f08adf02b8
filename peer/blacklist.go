package peer

import (
	"sync"
	"time"
)

// Blacklist defaults
const (
	DefaultFailureThreshold = 3
	DefaultRetryBackoff     = 60 * time.Second

	// backoffCapMultiplier bounds the exponential backoff so a flaky peer
	// is never suppressed for more than capMultiplier x base.
	backoffCapMultiplier = 8
)

type blacklistEntry struct {
	until    time.Time
	failures int
}

// Blacklist suppresses connection attempts to addresses that keep failing.
// Suppression starts once failures reach the threshold and grows linearly
// with each further failure up to an 8x cap; any successful connection
// clears the entry unconditionally.
type Blacklist struct {
	mu        sync.Mutex
	threshold int
	backoff   time.Duration
	entries   map[string]blacklistEntry
}

// NewBlacklist creates a blacklist. Non-positive arguments select the
// defaults.
func NewBlacklist(threshold int, backoff time.Duration) *Blacklist {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Blacklist{
		threshold: threshold,
		backoff:   backoff,
		entries:   make(map[string]blacklistEntry),
	}
}

// RecordFailure notes a failed connection for address given its cumulative
// failure count. When the count has reached the threshold it computes the
// suppression window and returns it with true; below threshold it returns
// zero and false.
func (b *Blacklist) RecordFailure(address string, failures int) (time.Duration, bool) {
	if failures < b.threshold {
		return 0, false
	}

	multiplier := failures - b.threshold + 1
	if multiplier > backoffCapMultiplier {
		multiplier = backoffCapMultiplier
	}
	duration := b.backoff * time.Duration(multiplier)

	b.mu.Lock()
	b.entries[address] = blacklistEntry{
		until:    time.Now().Add(duration),
		failures: failures,
	}
	b.mu.Unlock()

	return duration, true
}

// RecordSuccess clears any suppression for address. One good connection
// wipes the slate; past failures are not held as a permanent penalty.
func (b *Blacklist) RecordSuccess(address string) {
	b.mu.Lock()
	delete(b.entries, address)
	b.mu.Unlock()
}

// IsBlacklisted reports whether address is currently suppressed, lazily
// removing the entry once its window has elapsed.
func (b *Blacklist) IsBlacklisted(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[address]
	if !ok {
		return false
	}
	if !time.Now().Before(entry.until) {
		delete(b.entries, address)
		return false
	}
	return true
}

// Len returns the number of active entries, including any whose window has
// elapsed but which have not yet been lazily removed.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
