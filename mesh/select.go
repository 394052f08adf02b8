package mesh

import (
	"sort"
	"time"

	"github.com/user/blemesh/peer"
)

type scoredPeer struct {
	peer  peer.DiscoveredPeer
	score float64
	// rotation marks a known identity reappearing under a fresh address;
	// such peers skip the address tie-break so the reconnect is never
	// stalled waiting for the other side.
	rotation bool
}

// selectPeersLocked picks which discovered peers to connect right now:
// the highest-scored candidates that fit in the remaining connection
// slots. Caller holds peerMu.
func (i *Interface) selectPeersLocked() []peer.DiscoveredPeer {
	slots := i.cfg.MaxPeers - len(i.connected)
	if slots <= 0 {
		return nil
	}

	local := i.driver.LocalAddress()
	now := time.Now()
	var candidates []scoredPeer

	for _, p := range i.registry.Snapshot() {
		if i.connected[p.Address] || i.connecting[p.Address] {
			continue
		}
		if !p.LastAttempt.IsZero() && now.Sub(p.LastAttempt) < connectRateLimit {
			continue
		}
		// Backed-off addresses are skipped before the rotation branch
		// can touch their stale bindings.
		if i.blacklist.IsBlacklisted(p.Address) {
			continue
		}

		rotation := false
		if identity := i.addrToIdent[p.Address]; identity != nil {
			hash := IdentityHash(identity)
			if existing := i.identToAddr[hash]; existing != "" {
				if existing == p.Address || i.connected[existing] {
					continue
				}
				// Same identity, dead old address: tear the stale
				// binding down and reconnect via this one.
				i.cleanupStaleBindingLocked(hash, existing)
				rotation = true
			}
		}

		if !rotation && local != "" && !localInitiates(local, p.Address) {
			continue
		}
		if !peer.ValidRSSI(p.RSSI) {
			continue
		}

		candidates = append(candidates, scoredPeer{
			peer:     p,
			score:    peer.Score(p, now),
			rotation: rotation,
		})
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > slots {
		candidates = candidates[:slots]
	}

	out := make([]peer.DiscoveredPeer, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.peer)
	}
	return out
}
