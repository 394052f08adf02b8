package mesh

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/user/blemesh/driver"
)

// Service and characteristic UUIDs for the mesh transport GATT layout
const (
	ServiceUUID         = "37145b00-442d-4a94-917f-8f42c5da28e3"
	CharacteristicRX    = "37145b00-442d-4a94-917f-8f42c5da28e5"
	CharacteristicTX    = "37145b00-442d-4a94-917f-8f42c5da28e4"
	CharacteristicIdent = "37145b00-442d-4a94-917f-8f42c5da28e6"
)

// Capability constants advertised to the owning transport layer
const (
	// HardwareMTU is the upper-layer packet size advertised to the owner.
	HardwareMTU = 500

	// BitrateGuess approximates sustained link throughput in bits/second.
	BitrateGuess = 700_000
)

// Config holds all engine settings. Interval and timeout fields are in
// seconds, as they appear in the TOML file.
type Config struct {
	Name       string `toml:"name"`
	DeviceName string `toml:"device_name"`

	ServiceUUID string `toml:"service_uuid"`

	EnableCentral    bool `toml:"enable_central"`
	EnablePeripheral bool `toml:"enable_peripheral"`

	DiscoveryInterval float64 `toml:"discovery_interval"`
	ConnectionTimeout float64 `toml:"connection_timeout"`
	IdentityTimeout   float64 `toml:"identity_timeout"`

	MaxPeers           int    `toml:"max_connections"`
	MinRSSI            int    `toml:"min_rssi"`
	PowerMode          string `toml:"power_mode"`
	MaxDiscoveredPeers int    `toml:"max_discovered_peers"`

	MaxConnectionFailures      int     `toml:"max_connection_failures"`
	ConnectionRetryBackoff     float64 `toml:"connection_retry_backoff"`
	ConnectionRotationInterval float64 `toml:"connection_rotation_interval"`
}

// DefaultConfig returns the stock engine settings
func DefaultConfig() Config {
	return Config{
		Name:                       "blemesh",
		ServiceUUID:                ServiceUUID,
		EnableCentral:              true,
		EnablePeripheral:           true,
		DiscoveryInterval:          5,
		ConnectionTimeout:          30,
		IdentityTimeout:            30,
		MaxPeers:                   7,
		MinRSSI:                    -85,
		PowerMode:                  string(driver.PowerBalanced),
		MaxDiscoveredPeers:         100,
		MaxConnectionFailures:      3,
		ConnectionRetryBackoff:     60,
		ConnectionRotationInterval: 600,
	}
}

// LoadConfig reads a TOML file over the defaults. A missing file is not an
// error; the defaults are returned as-is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside the engine
func (c *Config) Validate() error {
	if c.MaxPeers < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxPeers)
	}
	if !driver.ValidPowerMode(driver.PowerMode(c.PowerMode)) {
		return fmt.Errorf("invalid power_mode %q (aggressive, balanced, saver)", c.PowerMode)
	}
	if c.ServiceUUID == "" {
		return fmt.Errorf("service_uuid must be set")
	}
	if c.DiscoveryInterval <= 0 || c.ConnectionTimeout <= 0 || c.IdentityTimeout <= 0 {
		return fmt.Errorf("intervals and timeouts must be positive")
	}
	return nil
}

func (c *Config) discoveryInterval() time.Duration {
	return time.Duration(c.DiscoveryInterval * float64(time.Second))
}

func (c *Config) connectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeout * float64(time.Second))
}

func (c *Config) identityTimeout() time.Duration {
	return time.Duration(c.IdentityTimeout * float64(time.Second))
}

func (c *Config) retryBackoff() time.Duration {
	return time.Duration(c.ConnectionRetryBackoff * float64(time.Second))
}
