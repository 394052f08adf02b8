package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/blemesh/logger"
)

// Simulation defaults
const (
	simDefaultMTU  = 185
	simDefaultRSSI = -50
	simScanPeriod  = 50 * time.Millisecond
)

// Bus links SimDrivers into one radio neighborhood. Drivers on the same
// bus can discover and connect to each other.
type Bus struct {
	mu      sync.Mutex
	drivers map[string]*SimDriver
	mtu     int
	rssi    map[string]map[string]int // observer address -> subject address -> dBm
}

// NewBus creates an empty simulated radio neighborhood
func NewBus() *Bus {
	return &Bus{
		drivers: make(map[string]*SimDriver),
		mtu:     simDefaultMTU,
		rssi:    make(map[string]map[string]int),
	}
}

// SetMTU sets the payload size negotiated on every future connection
func (b *Bus) SetMTU(mtu int) {
	b.mu.Lock()
	b.mtu = mtu
	b.mu.Unlock()
}

// SetRSSI overrides the signal strength observer sees for subject
func (b *Bus) SetRSSI(observer, subject string, rssi int) {
	b.mu.Lock()
	if b.rssi[observer] == nil {
		b.rssi[observer] = make(map[string]int)
	}
	b.rssi[observer][subject] = rssi
	b.mu.Unlock()
}

func (b *Bus) rssiFor(observer, subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.rssi[observer]; ok {
		if v, ok := m[subject]; ok {
			return v
		}
	}
	return simDefaultRSSI
}

// NewDriver attaches a new simulated driver to the bus. An empty address
// gets a random one.
func (b *Bus) NewDriver(address string) *SimDriver {
	if address == "" {
		address = uuid.NewString()
	}
	d := &SimDriver{
		bus:     b,
		address: address,
		conns:   make(map[string]simConn),
	}
	b.mu.Lock()
	b.drivers[address] = d
	b.mu.Unlock()
	return d
}

func (b *Bus) lookup(address string) *SimDriver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drivers[address]
}

func (b *Bus) advertisers() []*SimDriver {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*SimDriver, 0, len(b.drivers))
	for _, d := range b.drivers {
		out = append(out, d)
	}
	return out
}

type simConn struct {
	role Role // role the remote peer plays on this link
	mtu  int
}

// SimDriver is an in-memory Driver backend for tests and local runs. Each
// driver runs one event goroutine; all callbacks fire from it, matching
// the single-driver-thread model of real backends.
type SimDriver struct {
	bus     *Bus
	address string

	mu          sync.Mutex
	cb          Callbacks
	cfg         Config
	identity    []byte
	deviceName  string
	started     bool
	scanning    bool
	advertising bool
	conns       map[string]simConn

	events chan func()
	done   chan struct{}
}

var _ Driver = (*SimDriver)(nil)

func (d *SimDriver) SetCallbacks(cb Callbacks) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *SimDriver) SetIdentity(identity []byte) {
	d.mu.Lock()
	d.identity = append([]byte(nil), identity...)
	d.mu.Unlock()
}

func (d *SimDriver) Start(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("sim driver already started")
	}
	d.cfg = cfg
	d.started = true
	d.events = make(chan func(), 256)
	d.done = make(chan struct{})
	go d.eventLoop(d.events, d.done)
	return nil
}

func (d *SimDriver) eventLoop(events chan func(), done chan struct{}) {
	for {
		select {
		case fn := <-events:
			fn()
		case <-done:
			return
		}
	}
}

// post queues fn for the event goroutine. Events are dropped once the
// driver stops.
func (d *SimDriver) post(fn func()) {
	d.mu.Lock()
	events, done := d.events, d.done
	d.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- fn:
	case <-done:
	}
}

func (d *SimDriver) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.scanning = false
	d.advertising = false
	peers := make([]string, 0, len(d.conns))
	for address := range d.conns {
		peers = append(peers, address)
	}
	done := d.done
	d.mu.Unlock()

	for _, address := range peers {
		d.Disconnect(address)
	}
	close(done)
	return nil
}

func (d *SimDriver) StartScanning() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("sim driver not started")
	}
	if d.scanning {
		d.mu.Unlock()
		return nil
	}
	d.scanning = true
	done := d.done
	period := d.cfg.ScanInterval
	if period <= 0 {
		period = simScanPeriod
	}
	d.mu.Unlock()

	go d.scanLoop(done, period)
	return nil
}

func (d *SimDriver) scanLoop(done chan struct{}, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		scanning := d.scanning
		serviceUUID := d.cfg.ServiceUUID
		cb := d.cb.DeviceDiscovered
		d.mu.Unlock()
		if !scanning {
			return
		}
		if cb == nil {
			continue
		}

		for _, other := range d.bus.advertisers() {
			if other == d {
				continue
			}
			other.mu.Lock()
			visible := other.advertising && other.cfg.ServiceUUID == serviceUUID
			dev := Device{
				Address:      other.address,
				Name:         other.deviceName,
				RSSI:         d.bus.rssiFor(d.address, other.address),
				ServiceUUIDs: []string{other.cfg.ServiceUUID},
			}
			other.mu.Unlock()
			if !visible {
				continue
			}
			d.post(func() { cb(dev) })
		}
	}
}

func (d *SimDriver) StopScanning() error {
	d.mu.Lock()
	d.scanning = false
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) StartAdvertising(deviceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return fmt.Errorf("sim driver not started")
	}
	d.deviceName = deviceName
	d.advertising = true
	return nil
}

func (d *SimDriver) StopAdvertising() error {
	d.mu.Lock()
	d.advertising = false
	d.mu.Unlock()
	return nil
}

// Connect establishes a simulated connection. The target's duplicate
// identity check runs first; once connected the target sees us as its
// central. Event order on the accepting side is MTU before identity,
// which exercises the consumer's pending-size path.
func (d *SimDriver) Connect(address string) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("sim driver not started")
	}
	if _, ok := d.conns[address]; ok {
		d.mu.Unlock()
		return fmt.Errorf("operation already in progress for %s", address)
	}
	myIdentity := append([]byte(nil), d.identity...)
	d.mu.Unlock()

	target := d.bus.lookup(address)
	if target == nil {
		d.post(func() {
			d.errorCallback()(SeverityWarning, fmt.Sprintf("connection timeout to %s", address), nil)
		})
		return nil
	}

	target.mu.Lock()
	acceptable := target.started && target.advertising
	dupCheck := target.cb.DuplicateIdentity
	targetIdentity := append([]byte(nil), target.identity...)
	target.mu.Unlock()

	if !acceptable {
		d.post(func() {
			d.errorCallback()(SeverityWarning, fmt.Sprintf("connection timeout to %s", address), nil)
		})
		return nil
	}

	if dupCheck != nil && dupCheck(d.address, myIdentity) {
		d.post(func() {
			d.errorCallback()(SeverityError, fmt.Sprintf("connection failed to %s", address), fmt.Errorf("remote aborted: duplicate identity"))
		})
		return nil
	}

	d.bus.mu.Lock()
	mtu := d.bus.mtu
	d.bus.mu.Unlock()

	d.mu.Lock()
	d.conns[address] = simConn{role: RolePeripheral, mtu: mtu}
	d.mu.Unlock()
	target.mu.Lock()
	target.conns[d.address] = simConn{role: RoleCentral, mtu: mtu}
	target.mu.Unlock()

	initiator := d.address
	d.post(func() {
		if cb := d.callbacks().DeviceConnected; cb != nil {
			cb(address, targetIdentity)
		}
		if cb := d.callbacks().MTUNegotiated; cb != nil {
			cb(address, mtu)
		}
	})
	target.post(func() {
		if cb := target.callbacks().MTUNegotiated; cb != nil {
			cb(initiator, mtu)
		}
		if cb := target.callbacks().DeviceConnected; cb != nil {
			cb(initiator, nil)
		}
	})
	return nil
}

func (d *SimDriver) callbacks() Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

func (d *SimDriver) errorCallback() func(Severity, string, error) {
	cb := d.callbacks().DriverError
	if cb == nil {
		return func(severity Severity, message string, err error) {
			logger.Debug("sim "+shortAddr(d.address), "unhandled driver %s: %s (%v)", severity, message, err)
		}
	}
	return cb
}

func (d *SimDriver) Disconnect(address string) error {
	d.mu.Lock()
	_, connected := d.conns[address]
	delete(d.conns, address)
	d.mu.Unlock()
	if !connected {
		return nil // idempotent
	}

	d.post(func() {
		if cb := d.callbacks().DeviceDisconnected; cb != nil {
			cb(address)
		}
	})

	if target := d.bus.lookup(address); target != nil {
		target.mu.Lock()
		_, theirSide := target.conns[d.address]
		delete(target.conns, d.address)
		target.mu.Unlock()
		if theirSide {
			local := d.address
			target.post(func() {
				if cb := target.callbacks().DeviceDisconnected; cb != nil {
					cb(local)
				}
			})
		}
	}
	return nil
}

func (d *SimDriver) Send(address string, data []byte) error {
	d.mu.Lock()
	_, connected := d.conns[address]
	d.mu.Unlock()
	if !connected {
		return fmt.Errorf("not connected to %s", address)
	}

	target := d.bus.lookup(address)
	if target == nil {
		return fmt.Errorf("peer %s vanished", address)
	}

	payload := append([]byte(nil), data...)
	local := d.address
	target.post(func() {
		if cb := target.callbacks().DataReceived; cb != nil {
			cb(local, payload)
		}
	})
	return nil
}

func (d *SimDriver) SetPowerMode(mode PowerMode) error {
	if !ValidPowerMode(mode) {
		return fmt.Errorf("invalid power mode %q", mode)
	}
	return nil
}

func (d *SimDriver) LocalAddress() string {
	return d.address
}

func (d *SimDriver) PeerRole(address string) Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[address]; ok {
		return conn.role
	}
	return RoleNone
}

func (d *SimDriver) PeerMTU(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[address]; ok {
		return conn.mtu
	}
	return 0
}

func (d *SimDriver) ConnectedPeers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]string, 0, len(d.conns))
	for address := range d.conns {
		peers = append(peers, address)
	}
	return peers
}

func (d *SimDriver) RemoveDeviceState(ctx context.Context, address string) error {
	select {
	case <-time.After(5 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortAddr(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	return address
}
