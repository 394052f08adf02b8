// Package mesh is the link-layer transport engine: it turns a narrow
// connection-oriented radio driver into a set of per-peer byte-packet
// endpoints for an owning transport layer. It owns peer discovery
// bookkeeping, connection selection, the dual-role connection state
// machine with identity-based deduplication, fragmentation state, and the
// periodic maintenance pass.
package mesh

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/blemesh/driver"
	"github.com/user/blemesh/frag"
	"github.com/user/blemesh/logger"
	"github.com/user/blemesh/peer"
)

// connectRateLimit is the minimum spacing between connection attempts to
// the same address.
const connectRateLimit = 5 * time.Second

// Owner is the upstream layer that hands us whole packets to transmit and
// receives fully reassembled inbound packets.
type Owner interface {
	Inbound(data []byte, from *PeerInterface)
}

type pendingSize struct {
	mtu   int
	since time.Time
}

// Interface is the connection orchestrator. It consumes driver events,
// decides which discovered peers to connect, runs the identity handshake
// bookkeeping, and spawns one PeerInterface per connected peer identity.
//
// Lock order: peerMu before fragMu, and neither is ever held across a
// driver call that can block (Connect, Send, RemoveDeviceState).
type Interface struct {
	cfg      Config
	driver   driver.Driver
	owner    Owner
	identity []byte
	prefix   string

	online atomic.Bool

	// peerMu guards the connection, identity, and pending-size tables.
	peerMu      sync.Mutex
	connected   map[string]bool
	connecting  map[string]bool
	addrToIdent map[string][]byte
	identToAddr map[string]string // identity hash -> current authoritative address
	spawned     map[string]*PeerInterface
	pendingSize map[string]pendingSize

	registry  *peer.Registry
	blacklist *peer.Blacklist

	// fragMu guards the fragmentation tables, keyed by identity hash so
	// the pairs survive address rotation.
	fragMu       sync.Mutex
	fragmenters  map[string]*frag.Fragmenter
	reassemblers map[string]*frag.Reassembler

	rxBytes atomic.Uint64
	txBytes atomic.Uint64

	maintStop chan struct{}
}

// New wires an engine to its driver and owner. identity is the local
// 16-byte identity token. The driver is configured but not started; call
// Start.
func New(cfg Config, drv driver.Driver, owner Owner, identity []byte) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(identity) != IdentitySize {
		return nil, fmt.Errorf("mesh: identity must be %d bytes, got %d", IdentitySize, len(identity))
	}

	i := &Interface{
		cfg:          cfg,
		driver:       drv,
		owner:        owner,
		identity:     append([]byte(nil), identity...),
		prefix:       cfg.Name,
		connected:    make(map[string]bool),
		connecting:   make(map[string]bool),
		addrToIdent:  make(map[string][]byte),
		identToAddr:  make(map[string]string),
		spawned:      make(map[string]*PeerInterface),
		pendingSize:  make(map[string]pendingSize),
		registry:     peer.NewRegistry(cfg.MaxDiscoveredPeers),
		blacklist:    peer.NewBlacklist(cfg.MaxConnectionFailures, cfg.retryBackoff()),
		fragmenters:  make(map[string]*frag.Fragmenter),
		reassemblers: make(map[string]*frag.Reassembler),
		maintStop:    make(chan struct{}),
	}

	drv.SetCallbacks(driver.Callbacks{
		DeviceDiscovered:   i.handleDeviceDiscovered,
		DeviceConnected:    i.handleDeviceConnected,
		MTUNegotiated:      i.handleMTUNegotiated,
		DataReceived:       i.handleDataReceived,
		DeviceDisconnected: i.handleDeviceDisconnected,
		DriverError:        i.handleDriverError,
		DuplicateIdentity:  i.handleDuplicateIdentity,
		AddressChanged:     i.handleAddressChanged,
	})
	drv.SetIdentity(i.identity)
	if err := drv.SetPowerMode(driver.PowerMode(cfg.PowerMode)); err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}

	return i, nil
}

// Start brings up the driver, begins scanning/advertising per the enabled
// roles, and launches the maintenance loop. The interface reports itself
// offline only when the driver itself fails to start; later per-peer churn
// never takes it down.
func (i *Interface) Start() error {
	err := i.driver.Start(driver.Config{
		ServiceUUID:      i.cfg.ServiceUUID,
		RXCharUUID:       CharacteristicRX,
		TXCharUUID:       CharacteristicTX,
		IdentityCharUUID: CharacteristicIdent,
		ScanInterval:     i.cfg.discoveryInterval(),
	})
	if err != nil {
		return fmt.Errorf("mesh: driver start: %w", err)
	}

	if i.cfg.EnableCentral {
		if err := i.driver.StartScanning(); err != nil {
			logger.Error(i.prefix, "failed to start scanning: %v", err)
		}
	}
	if i.cfg.EnablePeripheral {
		if err := i.driver.StartAdvertising(i.cfg.DeviceName); err != nil {
			logger.Error(i.prefix, "failed to start advertising: %v", err)
		}
	}

	i.online.Store(true)
	go i.maintenanceLoop()
	logger.Info(i.prefix, "interface online (central=%v peripheral=%v max_peers=%d)",
		i.cfg.EnableCentral, i.cfg.EnablePeripheral, i.cfg.MaxPeers)
	return nil
}

// Online reports whether the interface is up
func (i *Interface) Online() bool {
	return i.online.Load()
}

// Capability surface for the owning transport layer.

// MTU returns the largest upper-layer packet size this interface carries
func (i *Interface) MTU() int { return HardwareMTU }

// Bitrate returns the approximate sustained throughput in bits/second
func (i *Interface) Bitrate() int { return BitrateGuess }

// FullDuplex reports that peers can send and receive concurrently
func (i *Interface) FullDuplex() bool { return true }

// RxBytes returns total reassembled bytes delivered to the owner
func (i *Interface) RxBytes() uint64 { return i.rxBytes.Load() }

// TxBytes returns total fragment bytes handed to the driver
func (i *Interface) TxBytes() uint64 { return i.txBytes.Load() }

// ConnectedPeers returns the live sub-interfaces, one per peer identity
func (i *Interface) ConnectedPeers() []*PeerInterface {
	i.peerMu.Lock()
	defer i.peerMu.Unlock()
	peers := make([]*PeerInterface, 0, len(i.spawned))
	for _, pi := range i.spawned {
		if pi.Online() {
			peers = append(peers, pi)
		}
	}
	return peers
}

// ProcessOutgoing transmits one packet to every connected peer. The peer
// snapshot is taken under the peer lock and released before any send, so
// a sub-interface's outbound path cannot deadlock against table mutation.
func (i *Interface) ProcessOutgoing(data []byte) {
	if !i.online.Load() {
		return
	}

	peers := i.ConnectedPeers()
	logger.Debug(i.prefix, "TX %d bytes to %d peer(s)", len(data), len(peers))
	for _, pi := range peers {
		pi.ProcessOutgoing(data)
	}
}

// deliverInbound hands a reassembled packet to the owner
func (i *Interface) deliverInbound(data []byte, from *PeerInterface) {
	if !i.online.Load() || i.owner == nil {
		return
	}
	i.rxBytes.Add(uint64(len(data)))
	i.owner.Inbound(data, from)
}

// DisconnectPeer drops the connection to an address. Idempotent: unknown
// or already-dropped addresses are a no-op.
func (i *Interface) DisconnectPeer(address string) {
	if err := i.driver.Disconnect(address); err != nil {
		logger.Debug(i.prefix, "disconnect %s: %v", shortAddr(address), err)
	}
}

// Detach takes the interface offline: the maintenance loop stops
// rescheduling, sub-interfaces are detached, fragmentation state is
// dropped, and the driver is stopped.
func (i *Interface) Detach() {
	if !i.online.CompareAndSwap(true, false) {
		return
	}
	close(i.maintStop)

	i.peerMu.Lock()
	peers := make([]*PeerInterface, 0, len(i.spawned))
	for _, pi := range i.spawned {
		peers = append(peers, pi)
	}
	i.spawned = make(map[string]*PeerInterface)
	i.addrToIdent = make(map[string][]byte)
	i.identToAddr = make(map[string]string)
	i.connected = make(map[string]bool)
	i.connecting = make(map[string]bool)
	i.pendingSize = make(map[string]pendingSize)
	i.peerMu.Unlock()

	for _, pi := range peers {
		pi.Detach()
	}

	i.fragMu.Lock()
	i.fragmenters = make(map[string]*frag.Fragmenter)
	i.reassemblers = make(map[string]*frag.Reassembler)
	i.fragMu.Unlock()

	if err := i.driver.Stop(); err != nil {
		logger.Error(i.prefix, "error stopping driver: %v", err)
	}
	logger.Info(i.prefix, "interface detached")
}

func (i *Interface) String() string {
	return fmt.Sprintf("Interface[%s]", i.cfg.Name)
}
