package util

import (
	"os"
	"path/filepath"
)

// DataDir returns the base data directory for node state and config
func DataDir() string {
	if envDir := os.Getenv("BLEMESH_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".blemesh")
}

// DefaultConfigPath returns the default TOML config file location
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "blemesh.toml")
}

// EnsureDataDir creates the data directory if it does not exist
func EnsureDataDir() (string, error) {
	dir := DataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
