// Package driver defines the contract between the mesh engine and a
// platform radio backend. The engine issues commands through the Driver
// interface and receives events through the Callbacks it registers; all
// callbacks are invoked from the driver's own event goroutine.
package driver

import (
	"context"
	"time"
)

// Device describes one discovered remote device
type Device struct {
	Address      string
	Name         string
	RSSI         int
	ServiceUUIDs []string
}

// MinimumMTU is the smallest payload ceiling any link can negotiate. It
// is the fallback when a peer's negotiated value is not yet known.
const MinimumMTU = 23

// Role is our side of a connection
type Role int

const (
	RoleNone Role = iota
	RoleCentral
	RolePeripheral
)

func (r Role) String() string {
	switch r {
	case RoleCentral:
		return "central"
	case RolePeripheral:
		return "peripheral"
	default:
		return "none"
	}
}

// PowerMode selects the scanning duty cycle
type PowerMode string

const (
	PowerAggressive PowerMode = "aggressive"
	PowerBalanced   PowerMode = "balanced"
	PowerSaver      PowerMode = "saver"
)

// ValidPowerMode reports whether mode names a known power mode
func ValidPowerMode(mode PowerMode) bool {
	switch mode {
	case PowerAggressive, PowerBalanced, PowerSaver:
		return true
	}
	return false
}

// Severity classifies driver error reports
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Config names the GATT service and characteristics the driver exposes and
// looks for.
type Config struct {
	ServiceUUID      string
	RXCharUUID       string
	TXCharUUID       string
	IdentityCharUUID string

	// ScanInterval is the cadence of discovery reports while scanning.
	// Non-positive selects the backend default.
	ScanInterval time.Duration
}

// Callbacks carries the event handlers a driver invokes. Nil fields are
// skipped. Register before Start.
type Callbacks struct {
	// DeviceDiscovered fires for each advertisement seen while scanning.
	DeviceDiscovered func(Device)

	// DeviceConnected fires once a connection completes. identity is the
	// peer's 16-byte token when the driver could read it (central role);
	// nil when it must arrive via in-band handshake (peripheral role).
	DeviceConnected func(address string, identity []byte)

	// MTUNegotiated fires when the payload size for a connection settles.
	// May fire before or after DeviceConnected delivers an identity.
	MTUNegotiated func(address string, mtu int)

	// DataReceived fires per delivered write or notification.
	DataReceived func(address string, data []byte)

	// DeviceDisconnected fires when a connection drops, whichever side
	// initiated it.
	DeviceDisconnected func(address string)

	// DriverError reports backend faults. err may be nil.
	DriverError func(severity Severity, message string, err error)

	// DuplicateIdentity lets the consumer veto an inbound connection whose
	// identity is already bound elsewhere. Return true to abort it.
	DuplicateIdentity func(address string, identity []byte) bool

	// AddressChanged reports that the backend collapsed or migrated a
	// connection: oldAddress is gone, newAddress now carries the peer with
	// the given identity hash.
	AddressChanged func(oldAddress, newAddress, identityHash string)
}

// Driver is one platform radio backend. Implementations must be safe for
// concurrent use; Connect and Disconnect are asynchronous, reporting
// outcomes via callbacks rather than blocking.
type Driver interface {
	// SetCallbacks registers the event handlers. Call before Start.
	SetCallbacks(Callbacks)

	// SetIdentity sets the local 16-byte identity token served to peers.
	SetIdentity(identity []byte)

	// Start brings up the backend with the given service layout.
	Start(Config) error

	// Stop tears down all radio activity and releases resources.
	Stop() error

	StartScanning() error
	StopScanning() error

	// StartAdvertising makes the node connectable. deviceName may be empty.
	StartAdvertising(deviceName string) error
	StopAdvertising() error

	// Connect initiates a connection; completion arrives via callbacks.
	Connect(address string) error

	// Disconnect drops a connection. Unknown addresses are a no-op.
	Disconnect(address string) error

	// Send writes data to a connected peer using whichever radio operation
	// fits the connection's role.
	Send(address string, data []byte) error

	SetPowerMode(PowerMode) error

	// LocalAddress returns the local adapter address, used for the
	// deterministic initiator tie-break.
	LocalAddress() string

	// PeerRole returns the role the remote peer plays on the connection
	// to address, or RoleNone when not connected.
	PeerRole(address string) Role

	// PeerMTU returns the negotiated payload size for address, 0 if unknown.
	PeerMTU(address string) int

	ConnectedPeers() []string

	// RemoveDeviceState asks the backend to forget cached state for an
	// address (best effort, bounded by ctx).
	RemoveDeviceState(ctx context.Context, address string) error
}
