// Package metrics exposes the chain core's counters behind an injectable
// recorder so tests can observe them deterministically.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives the chain core's metric events.
type Recorder interface {
	// BlockMicroFork counts a first microblock failing to reference its base.
	BlockMicroFork()
	// MicroMicroFork counts a microblock failing to reference the liquid tip.
	MicroMicroFork()
	// MicroblockFork counts a forged prefix that discarded one or more
	// microblocks, and observes how many were discarded.
	MicroblockFork(discarded int)
	// ForgeBlockTime observes the duration of a forge-prefix walk.
	ForgeBlockTime(d time.Duration)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) BlockMicroFork()              {}
func (Nop) MicroMicroFork()              {}
func (Nop) MicroblockFork(int)           {}
func (Nop) ForgeBlockTime(time.Duration) {}

// PromRecorder implements Recorder on prometheus collectors.
type PromRecorder struct {
	blockMicroFork      prometheus.Counter
	microMicroFork      prometheus.Counter
	microblockFork      prometheus.Counter
	microblockForkDepth prometheus.Histogram
	forgeBlockTime      prometheus.Histogram
}

// NewPromRecorder creates a recorder and registers its collectors with reg.
func NewPromRecorder(reg prometheus.Registerer) *PromRecorder {
	r := &PromRecorder{
		blockMicroFork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidechain_block_micro_fork_total",
			Help: "First microblock of a base failed to reference the base.",
		}),
		microMicroFork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidechain_micro_micro_fork_total",
			Help: "Microblock failed to reference the liquid tip.",
		}),
		microblockFork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidechain_microblock_fork_total",
			Help: "Forged prefixes that discarded at least one microblock.",
		}),
		microblockForkDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tidechain_microblock_fork_height",
			Help:    "Number of microblocks discarded per forged prefix.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		forgeBlockTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tidechain_forge_block_time_ms",
			Help:    "Duration of the forge-prefix walk in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(r.blockMicroFork, r.microMicroFork, r.microblockFork, r.microblockForkDepth, r.forgeBlockTime)
	return r
}

// BlockMicroFork increments the block-micro-fork counter.
func (r *PromRecorder) BlockMicroFork() {
	r.blockMicroFork.Inc()
}

// MicroMicroFork increments the micro-micro-fork counter.
func (r *PromRecorder) MicroMicroFork() {
	r.microMicroFork.Inc()
}

// MicroblockFork records a forged prefix with discarded microblocks.
func (r *PromRecorder) MicroblockFork(discarded int) {
	r.microblockFork.Inc()
	r.microblockForkDepth.Observe(float64(discarded))
}

// ForgeBlockTime observes a forge duration.
func (r *PromRecorder) ForgeBlockTime(d time.Duration) {
	r.forgeBlockTime.Observe(float64(d.Microseconds()) / 1000.0)
}
