// Package node assembles the chain core, mempool, and matcher behind
// intake queues so it can be embedded in any binary. The network and
// matching-engine collaborators submit blocks, microblocks, and order
// events; the node serializes them into the state machines and routes
// discarded transactions back to the mempool.
package node

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tidechain-net/tidechain/internal/chain"
	"github.com/tidechain-net/tidechain/internal/matcher"
	"github.com/tidechain-net/tidechain/internal/mempool"
	"github.com/tidechain-net/tidechain/pkg/block"
)

// ErrStopped is returned by Submit methods after Stop.
var ErrStopped = errors.New("node is stopped")

const queueDepth = 64

// Node runs the intake loop over the chain core and the matcher.
type Node struct {
	logger zerolog.Logger

	ng     *chain.NG
	pool   *mempool.Pool
	orders *matcher.Processor // nil when the matcher is disabled

	validator      chain.Validator
	microValidator chain.MicroValidator

	blocks chan *block.Block
	micros chan *block.MicroBlock
	events chan matcher.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node over an assembled chain core. The validators come
// from the consensus collaborator; orders may be nil when the matcher is
// disabled.
func New(ng *chain.NG, pool *mempool.Pool, orders *matcher.Processor, validator chain.Validator, microValidator chain.MicroValidator, logger zerolog.Logger) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		logger:         logger,
		ng:             ng,
		pool:           pool,
		orders:         orders,
		validator:      validator,
		microValidator: microValidator,
		blocks:         make(chan *block.Block, queueDepth),
		micros:         make(chan *block.MicroBlock, queueDepth),
		events:         make(chan matcher.Event, queueDepth),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the intake loop.
func (n *Node) Start() {
	n.wg.Add(1)
	go n.run()
}

// Stop shuts the intake loop down and waits for it to return. Blocks,
// microblocks, and order events still queued are not applied.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
}

// SubmitBlock queues an incoming block.
func (n *Node) SubmitBlock(blk *block.Block) error {
	if err := n.ctx.Err(); err != nil {
		return ErrStopped
	}
	select {
	case n.blocks <- blk:
		return nil
	case <-n.ctx.Done():
		return ErrStopped
	}
}

// SubmitMicroBlock queues an incoming microblock.
func (n *Node) SubmitMicroBlock(mb *block.MicroBlock) error {
	if err := n.ctx.Err(); err != nil {
		return ErrStopped
	}
	select {
	case n.micros <- mb:
		return nil
	case <-n.ctx.Done():
		return ErrStopped
	}
}

// SubmitOrderEvent queues an order event from the matching engine.
func (n *Node) SubmitOrderEvent(ev matcher.Event) error {
	if n.orders == nil {
		return errors.New("matcher is disabled")
	}
	if err := n.ctx.Err(); err != nil {
		return ErrStopped
	}
	select {
	case n.events <- ev:
		return nil
	case <-n.ctx.Done():
		return ErrStopped
	}
}

func (n *Node) run() {
	defer n.wg.Done()
	for {
		select {
		case blk := <-n.blocks:
			n.handleBlock(blk)
		case mb := <-n.micros:
			n.handleMicroBlock(mb)
		case ev := <-n.events:
			n.handleOrderEvent(ev)
		case <-n.ctx.Done():
			return
		}
	}
}

// handleBlock applies a block to the chain. Transactions it carries leave
// the mempool; transactions from a discarded microblock suffix go back in.
func (n *Node) handleBlock(blk *block.Block) {
	_, discarded, err := n.ng.AppendBlock(blk, n.validator)
	if err != nil {
		if errors.Is(err, chain.ErrForgedSignature) {
			// Liquid-head corruption: surface loudly, do not continue.
			n.logger.Error().Err(err).Msg("FATAL: forged block failed self-check")
			return
		}
		n.logger.Warn().Err(err).Stringer("id", blk.UniqueID()).Msg("block rejected")
		return
	}
	n.pool.RemoveAll(blk.Transactions)
	if len(discarded) > 0 {
		requeued := n.pool.Requeue(discarded)
		n.logger.Info().
			Int("discarded", len(discarded)).
			Int("requeued", requeued).
			Msg("discarded microblock transactions returned to mempool")
	}
}

func (n *Node) handleMicroBlock(mb *block.MicroBlock) {
	if _, err := n.ng.AppendMicroBlock(mb, n.microValidator); err != nil {
		n.logger.Warn().Err(err).Stringer("tip", mb.TotalResBlockSig).Msg("microblock rejected")
		return
	}
	n.pool.RemoveAll(mb.Transactions)
}

func (n *Node) handleOrderEvent(ev matcher.Event) {
	if err := n.orders.Apply(ev); err != nil {
		if errors.Is(err, matcher.ErrNegativeReserved) {
			n.logger.Error().Err(err).Msg("FATAL: order accounting violated")
			return
		}
		n.logger.Warn().Err(err).Msg("order event rejected")
	}
}

// DiscardTip drops the chain tip and requeues the dropped transactions.
func (n *Node) DiscardTip() error {
	txs, err := n.ng.DiscardBlock()
	if err != nil {
		return err
	}
	if len(txs) > 0 {
		n.pool.Requeue(txs)
	}
	return nil
}
