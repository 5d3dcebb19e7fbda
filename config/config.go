// Package config handles node runtime configuration.
//
// Only node-operational settings live here: data directory, logging,
// store, matcher, and mempool tuning. Consensus rules are supplied by the
// caller of the chain core as a validator callback and have no
// configuration surface at this layer.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chain store
	Store StoreConfig

	// Matcher
	Matcher MatcherConfig

	// Mempool
	Mempool MempoolConfig

	// Metrics
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// StoreConfig tunes the key-value store backing chain and matcher state.
type StoreConfig struct {
	// InMemory replaces badger with an in-memory store (testing only).
	InMemory bool `conf:"store.memory"`
}

// MatcherConfig tunes the order history engine.
type MatcherConfig struct {
	Enabled bool `conf:"matcher"`
}

// MempoolConfig tunes the pending-transaction pool.
type MempoolConfig struct {
	MaxSize int `conf:"mempool.maxsize"`
}

// MetricsConfig tunes metric recording.
type MetricsConfig struct {
	Enabled bool `conf:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	JSON  bool   `conf:"log.json"`
	File  string `conf:"log.file"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tidechain"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Tidechain")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Tidechain")
	default:
		return filepath.Join(home, ".tidechain")
	}
}

// ChainDBPath returns the chain database directory for the configured network.
func (c *Config) ChainDBPath() string {
	return filepath.Join(c.DataDir, string(c.Network), "chainstate")
}

// MatcherDBPath returns the matcher database directory for the configured network.
func (c *Config) MatcherDBPath() string {
	return filepath.Join(c.DataDir, string(c.Network), "matcherstate")
}
