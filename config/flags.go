package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Matcher
	Matcher bool

	// Mempool
	MempoolMax int

	// Metrics
	NoMetrics bool

	// Logging
	LogLevel string
	LogJSON  bool
	LogFile  string
}

// ParseFlags parses command-line arguments into Flags.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("tidechaind", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help")
	fs.BoolVar(&f.Version, "version", false, "Show version")

	fs.StringVar(&f.Network, "network", string(Mainnet), "Network to join (mainnet or testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory (default: platform-specific)")
	fs.StringVar(&f.Config, "config", "", "Path to config file")

	fs.BoolVar(&f.Matcher, "matcher", false, "Enable the order matcher state engine")
	fs.IntVar(&f.MempoolMax, "mempool-max", 0, "Max pending transactions (0 = default)")
	fs.BoolVar(&f.NoMetrics, "no-metrics", false, "Disable metric recording")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Log as JSON")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write logs to this file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Resolve builds the effective Config: defaults, then config file, then
// flag overrides, in that precedence order.
func (f *Flags) Resolve() (*Config, error) {
	cfg := Default(NetworkType(f.Network))

	path := f.Config
	if path == "" {
		path = filepath.Join(cfg.DataDir, "tidechain.conf")
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}

	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Matcher {
		cfg.Matcher.Enabled = true
	}
	if f.MempoolMax > 0 {
		cfg.Mempool.MaxSize = f.MempoolMax
	}
	if f.NoMetrics {
		cfg.Metrics.Enabled = false
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogJSON {
		cfg.Log.JSON = true
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Usage prints a one-line usage summary to stderr. The individual flags are
// not listed.
func Usage() {
	fmt.Fprintf(os.Stderr, "Usage: tidechaind [flags]\n")
}
