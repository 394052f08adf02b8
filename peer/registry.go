// Package peer tracks discovered radio peers: signal quality, connection
// history, scoring, and failure backoff. It informs connection decisions
// but issues no radio commands itself.
package peer

import (
	"sort"
	"sync"
	"time"
)

// DefaultDiscoveryCap bounds the discovery cache so noisy radio
// environments cannot grow it without limit.
const DefaultDiscoveryCap = 100

// DiscoveredPeer is one observed remote address with its signal and
// connection history. Values returned by Registry methods are copies.
type DiscoveredPeer struct {
	Address string
	Name    string
	RSSI    int

	FirstSeen time.Time
	LastSeen  time.Time

	Attempts    int
	Successes   int
	Failures    int
	LastAttempt time.Time
}

// SuccessRate returns successes/attempts, or 0 with no attempts
func (p *DiscoveredPeer) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

// Registry is the bounded cache of discovered peers. When the cap is
// exceeded the entries with the oldest last-seen timestamps are evicted.
type Registry struct {
	mu    sync.Mutex
	cap   int
	peers map[string]*DiscoveredPeer
}

// NewRegistry creates a registry. A non-positive cap selects
// DefaultDiscoveryCap.
func NewRegistry(cap int) *Registry {
	if cap <= 0 {
		cap = DefaultDiscoveryCap
	}
	return &Registry{
		cap:   cap,
		peers: make(map[string]*DiscoveredPeer),
	}
}

// Observe records a discovery event, creating or refreshing the entry and
// pruning the cache if it went over cap.
func (r *Registry) Observe(address, name string, rssi int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if p, ok := r.peers[address]; ok {
		p.RSSI = rssi
		p.LastSeen = now
		if name != "" {
			p.Name = name
		}
	} else {
		r.peers[address] = &DiscoveredPeer{
			Address:   address,
			Name:      name,
			RSSI:      rssi,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(r.peers) > r.cap {
		r.pruneLocked()
	}
}

// pruneLocked evicts oldest-last-seen entries until the cache fits the cap
func (r *Registry) pruneLocked() {
	type aged struct {
		address  string
		lastSeen time.Time
	}
	entries := make([]aged, 0, len(r.peers))
	for address, p := range r.peers {
		entries = append(entries, aged{address, p.LastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	for _, e := range entries[:len(entries)-r.cap] {
		delete(r.peers, e.address)
	}
}

// Get returns a copy of the entry for address
func (r *Registry) Get(address string) (DiscoveredPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[address]; ok {
		return *p, true
	}
	return DiscoveredPeer{}, false
}

// RecordAttempt bumps the attempt counter and timestamps it. Callers must
// do this before issuing the connect command, so a duplicate discovery
// event arriving during setup sees the attempt and rate-limits itself.
func (r *Registry) RecordAttempt(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[address]; ok {
		p.Attempts++
		p.LastAttempt = time.Now()
	}
}

// RecordSuccess bumps the success counter
func (r *Registry) RecordSuccess(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[address]; ok {
		p.Successes++
	}
}

// RecordFailure bumps the failure counter and returns the new total
func (r *Registry) RecordFailure(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[address]; ok {
		p.Failures++
		return p.Failures
	}
	return 0
}

// Snapshot returns copies of all entries
func (r *Registry) Snapshot() []DiscoveredPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]DiscoveredPeer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, *p)
	}
	return peers
}

// Len returns the number of cached peers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
