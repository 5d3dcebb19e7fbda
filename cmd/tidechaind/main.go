// Tidechain node daemon.
//
// Usage:
//
//	tidechaind [--matcher]  Run node
//	tidechaind --help       Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidechain-net/tidechain/config"
	"github.com/tidechain-net/tidechain/internal/chain"
	tlog "github.com/tidechain-net/tidechain/internal/log"
	"github.com/tidechain-net/tidechain/internal/matcher"
	"github.com/tidechain-net/tidechain/internal/mempool"
	"github.com/tidechain-net/tidechain/internal/metrics"
	"github.com/tidechain-net/tidechain/internal/node"
	"github.com/tidechain-net/tidechain/internal/storage"
)

const version = "0.3.0"

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Help {
		config.Usage()
		return
	}
	if flags.Version {
		fmt.Printf("tidechaind %s\n", version)
		return
	}
	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ──────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := filepath.Join(cfg.DataDir, "logs")
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = filepath.Join(logsDir, "tidechain.log")
	}
	if err := tlog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := tlog.WithComponent("node")

	// ── 3. Genesis ──────────────────────────────────────────────────────
	genesis := config.GenesisFor(cfg.Network)

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Str("version", version).
		Bool("matcher", cfg.Matcher.Enabled).
		Msg("Starting Tidechain node")

	// ── 4. Open storage ─────────────────────────────────────────────────
	var chainDB storage.DB
	if cfg.Store.InMemory {
		chainDB = storage.NewMemory()
	} else {
		db, err := storage.NewBadger(cfg.ChainDBPath())
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.ChainDBPath()).Msg("Failed to open chain database")
		}
		chainDB = db
	}
	defer chainDB.Close()

	// ── 5. Chain core ───────────────────────────────────────────────────
	history, err := chain.OpenHistory(chainDB)
	if err != nil {
		// A consistency failure here means the store must not be used.
		logger.Fatal().Err(err).Msg("Failed to open history store")
	}

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		rec = metrics.NewPromRecorder(prometheus.DefaultRegisterer)
	}
	ng := chain.NewNG(history, rec, tlog.NG)
	pool := mempool.New(cfg.Mempool.MaxSize)

	if err := chain.BootstrapGenesis(ng, genesis); err != nil {
		logger.Fatal().Err(err).Msg("Failed to bootstrap genesis")
	}

	logger.Info().
		Uint64("height", ng.Height()).
		Msg("Chain core ready")

	// ── 6. Matcher (optional) ───────────────────────────────────────────
	var orders *matcher.Processor
	if cfg.Matcher.Enabled {
		var matcherDB storage.DB
		if cfg.Store.InMemory {
			matcherDB = storage.NewMemory()
		} else {
			db, err := storage.NewBadger(cfg.MatcherDBPath())
			if err != nil {
				logger.Fatal().Err(err).Str("path", cfg.MatcherDBPath()).Msg("Failed to open matcher database")
			}
			matcherDB = db
		}
		defer matcherDB.Close()

		orders = matcher.NewProcessor(matcher.NewOrderHistory(matcherDB), tlog.Matcher)
		logger.Info().Msg("Matcher engine ready")
	}

	// ── 7. Intake loop ──────────────────────────────────────────────────
	// Consensus is the collaborator's concern: until one is plugged in,
	// submitted blocks and microblocks validate structurally only.
	accept := func() (chain.Diff, error) { return nil, nil }
	acceptMicro := func(int64) (chain.Diff, error) { return nil, nil }

	n := node.New(ng, pool, orders, accept, acceptMicro, logger)
	n.Start()

	// ── 8. Wait for shutdown ────────────────────────────────────────────
	// Blocks, microblocks, and order events arrive through the node's
	// Submit methods from the network and matching collaborators.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	n.Stop()
}
