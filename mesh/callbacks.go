package mesh

import (
	"context"
	"strings"
	"time"

	"github.com/user/blemesh/driver"
	"github.com/user/blemesh/frag"
	"github.com/user/blemesh/logger"
	"github.com/user/blemesh/peer"
)

// removeStateTimeout bounds the best-effort stale device-state cleanup so
// a wedged stack service cannot stall the error path.
const removeStateTimeout = 5 * time.Second

// handleDeviceDiscovered records a sighting and, when the peer is worth
// connecting right now, issues the connect. The attempt is recorded before
// the connect so a duplicate discovery event inside the rate-limit window
// cannot double-connect.
func (i *Interface) handleDeviceDiscovered(dev driver.Device) {
	if !i.online.Load() || !i.cfg.EnableCentral {
		return
	}
	if !advertisesService(dev.ServiceUUIDs, i.cfg.ServiceUUID) {
		return
	}
	if !peer.ValidRSSI(dev.RSSI) {
		logger.Trace(i.prefix, "ignoring %s: sentinel RSSI %d", shortAddr(dev.Address), dev.RSSI)
		return
	}
	if dev.RSSI < i.cfg.MinRSSI {
		logger.Trace(i.prefix, "ignoring %s: RSSI %d below floor %d", shortAddr(dev.Address), dev.RSSI, i.cfg.MinRSSI)
		return
	}

	i.registry.Observe(dev.Address, dev.Name, dev.RSSI)

	i.peerMu.Lock()
	targets := i.selectPeersLocked()
	var connect []string
	for _, t := range targets {
		i.registry.RecordAttempt(t.Address)
		i.connecting[t.Address] = true
		connect = append(connect, t.Address)
	}
	i.peerMu.Unlock()

	for _, addr := range connect {
		logger.Info(i.prefix, "connecting to %s", shortAddr(addr))
		if err := i.driver.Connect(addr); err != nil {
			logger.Warn(i.prefix, "connect to %s failed to start: %v", shortAddr(addr), err)
			i.peerMu.Lock()
			delete(i.connecting, addr)
			i.peerMu.Unlock()
		}
	}
}

func advertisesService(uuids []string, want string) bool {
	for _, u := range uuids {
		if strings.EqualFold(u, want) {
			return true
		}
	}
	return false
}

// handleDeviceConnected runs when a link comes up. On the initiator side
// the driver read the peer's identity during connection setup and passes
// it here; on the acceptor side identity is nil and the peer is parked
// until its identity handshake message arrives.
func (i *Interface) handleDeviceConnected(address string, identity []byte) {
	i.peerMu.Lock()
	delete(i.connecting, address)
	i.connected[address] = true

	if identity == nil {
		role := i.driver.PeerRole(address)
		i.peerMu.Unlock()
		if role == driver.RoleCentral {
			logger.Debug(i.prefix, "central %s connected, awaiting identity handshake", shortAddr(address))
			return
		}
		logger.Warn(i.prefix, "peripheral %s connected without identity, dropping", shortAddr(address))
		i.DisconnectPeer(address)
		return
	}

	if len(identity) != IdentitySize {
		i.peerMu.Unlock()
		logger.Warn(i.prefix, "%s presented malformed identity (%d bytes), dropping", shortAddr(address), len(identity))
		i.DisconnectPeer(address)
		i.recordConnectionFailure(address)
		return
	}

	i.adoptIdentityLocked(address, identity)
	ps, havePending := i.pendingSize[address]
	delete(i.pendingSize, address)
	i.peerMu.Unlock()

	i.registry.RecordSuccess(address)
	i.blacklist.RecordSuccess(address)
	logger.Info(i.prefix, "connected to %s (identity %s)", shortAddr(address), shortHash(IdentityHash(identity)))

	// First message on the link is our identity token, so the acceptor
	// side can complete its half of the handshake.
	if err := i.driver.Send(address, i.identity); err != nil {
		logger.Warn(i.prefix, "identity handshake to %s failed: %v", shortAddr(address), err)
	}

	if havePending {
		i.handleMTUNegotiated(address, ps.mtu)
	}
}

// handleMTUNegotiated binds the negotiated payload ceiling to the peer's
// identity. When it fires before the identity is known (the acceptor race)
// the value is parked in the pending table and replayed by whichever path
// learns the identity first.
func (i *Interface) handleMTUNegotiated(address string, mtu int) {
	i.peerMu.Lock()
	identity := i.addrToIdent[address]
	if identity == nil {
		i.pendingSize[address] = pendingSize{mtu: mtu, since: time.Now()}
		i.peerMu.Unlock()
		logger.Debug(i.prefix, "MTU %d from %s before identity, parking", mtu, shortAddr(address))
		return
	}
	err := i.setupPeerLocked(address, identity, mtu)
	i.peerMu.Unlock()

	if err != nil {
		logger.Error(i.prefix, "cannot serve %s at MTU %d: %v", shortAddr(address), mtu, err)
		i.DisconnectPeer(address)
	}
}

// setupPeerLocked installs the identity-keyed fragmentation pair and
// spawns the sub-interface if one does not already exist for this
// identity. Caller holds peerMu.
func (i *Interface) setupPeerLocked(address string, identity []byte, mtu int) error {
	hash := IdentityHash(identity)

	f, err := frag.NewFragmenter(mtu)
	if err != nil {
		return err
	}
	i.fragMu.Lock()
	i.fragmenters[hash] = f
	if i.reassemblers[hash] == nil {
		i.reassemblers[hash] = frag.NewReassembler(i.cfg.connectionTimeout())
	}
	i.fragMu.Unlock()

	if i.spawned[hash] == nil {
		name := ""
		if p, ok := i.registry.Get(address); ok {
			name = p.Name
		}
		if name == "" {
			name = "peer-" + shortAddr(address)
		}
		pi := newPeerInterface(i, address, name, identity, hash)
		i.spawned[hash] = pi
		logger.Info(i.prefix, "peer interface %s up (identity %s, MTU %d)", name, shortHash(hash), mtu)
	}
	return nil
}

// handleDataReceived routes one inbound frame: keep-alive filter, then
// the identity handshake when the sender is still anonymous, otherwise
// reassembly and delivery.
func (i *Interface) handleDataReceived(address string, data []byte) {
	if len(data) == 1 && data[0] == 0x00 {
		return
	}

	i.peerMu.Lock()
	identity := i.addrToIdent[address]
	if identity == nil {
		i.handshakeLocked(address, data)
		return
	}
	hash := IdentityHash(identity)
	i.peerMu.Unlock()

	i.fragMu.Lock()
	r := i.reassemblers[hash]
	i.fragMu.Unlock()
	if r == nil {
		logger.Warn(i.prefix, "frame from %s with no reassembler, dropping", shortAddr(address))
		return
	}

	packet, err := r.Receive(data, address)
	if err != nil {
		logger.Warn(i.prefix, "reassembly error from %s: %v", shortAddr(address), err)
		return
	}
	if packet == nil {
		return
	}
	if purged := r.CleanupStale(); purged > 0 {
		logger.Debug(i.prefix, "purged %d stale partial packet(s)", purged)
	}

	i.peerMu.Lock()
	pi := i.spawned[hash]
	i.peerMu.Unlock()
	if pi == nil {
		logger.Warn(i.prefix, "packet from %s but no peer interface, dropping %d bytes", shortAddr(address), len(packet))
		return
	}
	pi.ProcessIncoming(packet)
}

// handshakeLocked consumes a frame from a peer whose identity is still
// unknown. The only thing such a peer may send is its 16-byte identity
// token; anything else is dropped. Caller holds peerMu, which is released
// here on every path.
func (i *Interface) handshakeLocked(address string, data []byte) {
	if len(data) != IdentitySize {
		i.peerMu.Unlock()
		logger.Warn(i.prefix, "dropping %d bytes from %s: no identity yet", len(data), shortAddr(address))
		return
	}

	hash := IdentityHash(data)
	existing := i.identToAddr[hash]
	if existing != "" && existing != address {
		if i.connected[existing] {
			i.peerMu.Unlock()
			logger.Warn(i.prefix, "identity %s already live via %s, rejecting handshake from %s",
				shortHash(hash), shortAddr(existing), shortAddr(address))
			i.DisconnectPeer(address)
			return
		}
		// Address rotation: the old binding is dead weight.
		i.cleanupStaleBindingLocked(hash, existing)
	}

	i.adoptIdentityLocked(address, data)
	i.connected[address] = true

	mtu := 0
	if ps, ok := i.pendingSize[address]; ok {
		mtu = ps.mtu
		delete(i.pendingSize, address)
	} else {
		mtu = i.driver.PeerMTU(address)
	}
	if mtu <= 0 {
		mtu = driver.MinimumMTU
	}

	err := i.setupPeerLocked(address, data, mtu)
	i.peerMu.Unlock()

	logger.Info(i.prefix, "identity handshake from %s: %s", shortAddr(address), shortHash(hash))
	if err != nil {
		logger.Error(i.prefix, "cannot serve %s at MTU %d: %v", shortAddr(address), mtu, err)
		i.DisconnectPeer(address)
	}
}

// adoptIdentityLocked binds an address to an identity token and makes the
// address authoritative for that identity. Caller holds peerMu.
func (i *Interface) adoptIdentityLocked(address string, identity []byte) {
	tok := append([]byte(nil), identity...)
	i.addrToIdent[address] = tok
	i.identToAddr[IdentityHash(tok)] = address
}

// cleanupStaleBindingLocked tears down every trace of a dead binding for
// an identity that has reappeared under a new address. Caller holds
// peerMu.
func (i *Interface) cleanupStaleBindingLocked(hash, oldAddress string) {
	if pi := i.spawned[hash]; pi != nil {
		delete(i.spawned, hash)
		pi.markDetached()
	}
	delete(i.identToAddr, hash)
	delete(i.pendingSize, oldAddress)

	i.fragMu.Lock()
	delete(i.fragmenters, hash)
	delete(i.reassemblers, hash)
	i.fragMu.Unlock()

	logger.Info(i.prefix, "identity %s rotated away from %s, cleaned stale binding", shortHash(hash), shortAddr(oldAddress))
}

// handleDeviceDisconnected narrows or destroys the binding for a dropped
// link. The sub-interface and fragmentation pair survive as long as any
// other address still maps to the same identity.
func (i *Interface) handleDeviceDisconnected(address string) {
	i.peerMu.Lock()
	delete(i.connecting, address)
	delete(i.connected, address)
	delete(i.pendingSize, address)

	identity := i.addrToIdent[address]
	if identity == nil {
		i.peerMu.Unlock()
		logger.Debug(i.prefix, "%s disconnected (no identity bound)", shortAddr(address))
		return
	}
	delete(i.addrToIdent, address)

	hash := IdentityHash(identity)
	survivor := ""
	for addr, ident := range i.addrToIdent {
		if IdentityHash(ident) == hash {
			survivor = addr
			break
		}
	}
	if survivor != "" {
		if i.identToAddr[hash] == address {
			i.identToAddr[hash] = survivor
		}
		i.peerMu.Unlock()
		logger.Info(i.prefix, "%s disconnected, identity %s continues via %s",
			shortAddr(address), shortHash(hash), shortAddr(survivor))
		return
	}

	pi := i.spawned[hash]
	delete(i.spawned, hash)
	delete(i.identToAddr, hash)

	i.fragMu.Lock()
	delete(i.fragmenters, hash)
	delete(i.reassemblers, hash)
	i.fragMu.Unlock()
	i.peerMu.Unlock()

	if pi != nil {
		pi.Detach()
	}
	logger.Info(i.prefix, "%s disconnected, identity %s gone", shortAddr(address), shortHash(hash))
}

// transientDriverError recognizes benign races inside the stack that the
// driver surfaces as errors. They carry no signal about peer health.
func transientDriverError(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "operation already in progress") ||
		strings.Contains(m, "in progress") ||
		strings.Contains(m, "br-connection-canceled")
}

// handleDriverError contains a driver fault to the peer it names. Errors
// and connection timeouts feed the failure tracker; known transient races
// are downgraded to debug noise.
func (i *Interface) handleDriverError(severity driver.Severity, message string, err error) {
	full := message
	if err != nil {
		full = message + ": " + err.Error()
	}

	if severity == driver.SeverityError && transientDriverError(full) {
		logger.Debug(i.prefix, "transient driver race: %s", full)
		return
	}

	record := false
	switch severity {
	case driver.SeverityCritical:
		logger.Error(i.prefix, "driver critical: %s", full)
		record = true
	case driver.SeverityError:
		logger.Error(i.prefix, "driver error: %s", full)
		record = true
	case driver.SeverityWarning:
		logger.Warn(i.prefix, "driver warning: %s", full)
		record = strings.Contains(strings.ToLower(full), "timeout")
	default:
		logger.Debug(i.prefix, "driver: %s", full)
	}

	if !record {
		return
	}
	if addr := extractAddress(message); addr != "" {
		i.recordConnectionFailure(addr)
	}
}

// extractAddress pulls the peer address out of driver error text of the
// form "... to <address>".
func extractAddress(message string) string {
	idx := strings.LastIndex(message, " to ")
	if idx < 0 {
		return ""
	}
	addr := strings.TrimSpace(message[idx+4:])
	addr = strings.TrimRight(addr, ".,;:")
	if addr == "" || strings.ContainsAny(addr, " \t") {
		return ""
	}
	return addr
}

// recordConnectionFailure bumps the failure count, blacklists past the
// threshold, and asks the driver to shed any cached state for the peer so
// the next attempt starts clean.
func (i *Interface) recordConnectionFailure(address string) {
	i.peerMu.Lock()
	delete(i.connecting, address)
	i.peerMu.Unlock()

	failures := i.registry.RecordFailure(address)
	backoff, listed := i.blacklist.RecordFailure(address, failures)
	if !listed {
		logger.Debug(i.prefix, "connection failure %d for %s", failures, shortAddr(address))
		return
	}

	logger.Warn(i.prefix, "%s blacklisted for %s after %d failures", shortAddr(address), backoff, failures)

	ctx, cancel := context.WithTimeout(context.Background(), removeStateTimeout)
	defer cancel()
	if err := i.driver.RemoveDeviceState(ctx, address); err != nil {
		logger.Debug(i.prefix, "device state cleanup for %s: %v", shortAddr(address), err)
	}
}

// handleDuplicateIdentity is the driver's pre-connection veto: reject an
// incoming peer only when its identity is already live through another
// address. A dead prior binding must not block the reconnect.
func (i *Interface) handleDuplicateIdentity(address string, identity []byte) bool {
	if len(identity) != IdentitySize {
		return false
	}
	hash := IdentityHash(identity)

	i.peerMu.Lock()
	existing := i.identToAddr[hash]
	dup := existing != "" && existing != address && i.connected[existing]
	i.peerMu.Unlock()

	if dup {
		logger.Warn(i.prefix, "rejecting %s: identity %s already connected via %s",
			shortAddr(address), shortHash(hash), shortAddr(existing))
	}
	return dup
}

// handleAddressChanged re-points the address tables when the driver
// detects a peer rotating its address mid-session. The identity-keyed
// state (sub-interface, fragmentation pair) is untouched.
func (i *Interface) handleAddressChanged(oldAddress, newAddress, identityHash string) {
	i.peerMu.Lock()
	if identity := i.addrToIdent[oldAddress]; identity != nil {
		i.addrToIdent[newAddress] = identity
		delete(i.addrToIdent, oldAddress)
	}
	if i.identToAddr[identityHash] == oldAddress {
		i.identToAddr[identityHash] = newAddress
	}
	if i.connected[oldAddress] {
		delete(i.connected, oldAddress)
		i.connected[newAddress] = true
	}
	delete(i.connecting, oldAddress)
	delete(i.pendingSize, oldAddress)
	i.peerMu.Unlock()

	logger.Info(i.prefix, "identity %s moved %s -> %s", shortHash(identityHash), shortAddr(oldAddress), shortAddr(newAddress))
}
