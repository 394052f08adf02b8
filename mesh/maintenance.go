package mesh

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/blemesh/frag"
	"github.com/user/blemesh/logger"
)

// maintenanceInterval is how often the periodic sweep runs
const maintenanceInterval = 30 * time.Second

func (i *Interface) maintenanceLoop() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-i.maintStop:
			return
		case <-ticker.C:
			if !i.online.Load() {
				return
			}
			i.runMaintenance()
		}
	}
}

// runMaintenance performs one sweep: purge stale partial packets from
// every reassembler and force-disconnect zombie links that connected but
// never produced an identity.
func (i *Interface) runMaintenance() {
	i.fragMu.Lock()
	rs := make([]*frag.Reassembler, 0, len(i.reassemblers))
	for _, r := range i.reassemblers {
		rs = append(rs, r)
	}
	i.fragMu.Unlock()

	purged := 0
	for _, r := range rs {
		purged += r.CleanupStale()
	}
	if purged > 0 {
		logger.Debug(i.prefix, "maintenance: purged %d stale partial packet(s)", purged)
	}

	deadline := i.cfg.identityTimeout()
	now := time.Now()
	var zombies []string
	i.peerMu.Lock()
	for addr, ps := range i.pendingSize {
		if now.Sub(ps.since) > deadline {
			zombies = append(zombies, addr)
			delete(i.pendingSize, addr)
		}
	}
	i.peerMu.Unlock()

	for _, addr := range zombies {
		logger.Warn(i.prefix, "maintenance: %s connected %s ago with no identity, disconnecting", shortAddr(addr), deadline)
		i.DisconnectPeer(addr)
	}

	logger.DebugJSON(i.prefix, "link stats", i.linkStats())
}

// linkStats snapshots the engine counters as a protobuf Struct for the
// diagnostic dump.
func (i *Interface) linkStats() *structpb.Struct {
	i.fragMu.Lock()
	var agg frag.Stats
	for _, r := range i.reassemblers {
		s := r.Stats()
		agg.FragmentsReceived += s.FragmentsReceived
		agg.PacketsReassembled += s.PacketsReassembled
		agg.PacketsTimedOut += s.PacketsTimedOut
		agg.Pending += s.Pending
	}
	i.fragMu.Unlock()

	i.peerMu.Lock()
	connected := len(i.connected)
	spawned := len(i.spawned)
	i.peerMu.Unlock()

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"connected_links":      structpb.NewNumberValue(float64(connected)),
		"peer_interfaces":      structpb.NewNumberValue(float64(spawned)),
		"discovered_peers":     structpb.NewNumberValue(float64(i.registry.Len())),
		"rx_bytes":             structpb.NewNumberValue(float64(i.rxBytes.Load())),
		"tx_bytes":             structpb.NewNumberValue(float64(i.txBytes.Load())),
		"fragments_received":   structpb.NewNumberValue(float64(agg.FragmentsReceived)),
		"packets_reassembled":  structpb.NewNumberValue(float64(agg.PacketsReassembled)),
		"packets_timed_out":    structpb.NewNumberValue(float64(agg.PacketsTimedOut)),
		"pending_reassemblies": structpb.NewNumberValue(float64(agg.Pending)),
	}}
}
