package matcher

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tidechain-net/tidechain/internal/storage"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// ErrNegativeReserved means applying an event would drive a reserved
// balance below zero. Fatal — an accounting bug, not bad input.
var ErrNegativeReserved = errors.New("order accounting: reserved balance would go negative")

// ErrNothingExecuted means an execution event matched two orders whose
// remainders cannot trade at the counter price.
var ErrNothingExecuted = errors.New("order execution: executable amount is zero")

// Event is one of the three order event kinds the matching engine emits:
// EventOrderAdded, EventOrderExecuted, or EventOrderCancelled.
type Event interface {
	isEvent()
}

// EventOrderAdded announces a fresh resting order.
type EventOrderAdded struct {
	Order *Order
}

// EventOrderExecuted announces a match between a submitted and a counter
// order.
type EventOrderExecuted struct {
	Submitted *Order
	Counter   *Order
}

// EventOrderCancelled announces a cancellation.
type EventOrderCancelled struct {
	Order       *Order
	Unmatchable bool
}

func (EventOrderAdded) isEvent()     {}
func (EventOrderExecuted) isEvent()  {}
func (EventOrderCancelled) isEvent() {}

// Remaining describes the unfilled part of an order after an execution,
// for the matching engine's subsequent re-add of the submitted remainder.
type Remaining struct {
	Order  *Order
	Amount int64
	Fee    int64
}

// ExecResult is the outcome of an OrderExecuted event.
type ExecResult struct {
	ExecutedAmount     int64
	SubmittedRemaining Remaining
	CounterRemaining   Remaining
}

// Processor applies order events to the projection. Events are serialized:
// the processor is the single writer, and each event commits as one batch
// so partial updates are never observable.
type Processor struct {
	mu   sync.Mutex
	hist *OrderHistory
	log  zerolog.Logger
}

// NewProcessor creates an event processor over the order history.
func NewProcessor(hist *OrderHistory, log zerolog.Logger) *Processor {
	return &Processor{hist: hist, log: log}
}

// Apply dispatches an event to the matching handler. Execution results are
// dropped; callers that need the remainders call OrderExecuted directly.
func (p *Processor) Apply(ev Event) error {
	switch e := ev.(type) {
	case EventOrderAdded:
		return p.OrderAdded(e.Order)
	case EventOrderExecuted:
		_, err := p.OrderExecuted(e.Submitted, e.Counter)
		return err
	case EventOrderCancelled:
		return p.OrderCancelled(e.Order, e.Unmatchable)
	default:
		return fmt.Errorf("unknown order event %T", ev)
	}
}

// OrderAdded installs a fresh order and reserves its full obligation.
// Re-adding an existing, non-cancelled order is a no-op: the matching
// engine re-publishes the submitted remainder after an execution, and the
// reservation for it is already in place.
func (p *Processor) OrderAdded(o *Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := o.Validate(); err != nil {
		return err
	}
	info, err := p.hist.OrderInfo(o.ID)
	if err != nil {
		return err
	}
	if info != nil && !info.Canceled {
		p.log.Debug().Stringer("order", o.ID).Msg("re-add of known order ignored")
		return nil
	}

	txn := p.begin()
	if _, err := txn.install(o); err != nil {
		return err
	}
	return txn.commit()
}

// OrderExecuted fills both sides of a match at the counter's price.
// The submitted order is installed first if this is its first event, then
// both sides' fills, fees, and reservations adjust in one batch.
func (p *Processor) OrderExecuted(submitted, counter *Order) (*ExecResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := submitted.Validate(); err != nil {
		return nil, err
	}
	if err := counter.Validate(); err != nil {
		return nil, err
	}

	txn := p.begin()
	subInfo, err := txn.ensure(submitted)
	if err != nil {
		return nil, err
	}
	ctrInfo, err := txn.ensure(counter)
	if err != nil {
		return nil, err
	}

	executed := CorrectedAmount(subInfo.Remaining(), counter.Price)
	if c := CorrectedAmount(ctrInfo.Remaining(), counter.Price); c < executed {
		executed = c
	}
	if executed <= 0 {
		return nil, fmt.Errorf("%w: submitted %s, counter %s", ErrNothingExecuted, submitted.ID, counter.ID)
	}

	subNew, err := txn.fill(submitted, subInfo, executed, counter.Price)
	if err != nil {
		return nil, err
	}
	ctrNew, err := txn.fill(counter, ctrInfo, executed, counter.Price)
	if err != nil {
		return nil, err
	}
	if err := txn.commit(); err != nil {
		return nil, err
	}

	p.log.Debug().
		Stringer("submitted", submitted.ID).
		Stringer("counter", counter.ID).
		Int64("executed", executed).
		Msg("orders executed")

	return &ExecResult{
		ExecutedAmount:     executed,
		SubmittedRemaining: Remaining{Order: submitted, Amount: subNew.Remaining(), Fee: subNew.RemainingFee},
		CounterRemaining:   Remaining{Order: counter, Amount: ctrNew.Remaining(), Fee: ctrNew.RemainingFee},
	}, nil
}

// OrderCancelled marks an order cancelled and releases its obligations.
// Terminal and unknown orders are left untouched.
func (p *Processor) OrderCancelled(o *Order, unmatchable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.hist.OrderInfo(o.ID)
	if err != nil {
		return err
	}
	if info == nil || info.Status().Terminal() {
		return nil
	}

	txn := p.begin()
	for asset, amount := range Obligations(o, info) {
		txn.addDelta(o.SenderPK, asset, -amount)
	}
	updated := *info
	updated.Canceled = true
	if err := txn.putInfo(o.ID, &updated); err != nil {
		return err
	}
	if err := txn.batch.Delete(activeKey(o)); err != nil {
		return err
	}
	if err := txn.putAllRank(o, rankTerminal); err != nil {
		return err
	}
	if err := txn.commit(); err != nil {
		return err
	}

	p.log.Debug().Stringer("order", o.ID).Bool("unmatchable", unmatchable).
		Int64("filled", updated.Filled).Msg("order cancelled")
	return nil
}

// reservedSlot addresses one (account, asset) reserved balance.
type reservedSlot struct {
	sender types.PublicKey
	asset  types.OptionalAsset
}

// eventTxn accumulates one event's writes and reservation deltas.
type eventTxn struct {
	hist   *OrderHistory
	batch  storage.Batch
	deltas map[reservedSlot]int64
}

func (p *Processor) begin() *eventTxn {
	return &eventTxn{
		hist:   p.hist,
		batch:  p.hist.newBatch(),
		deltas: make(map[reservedSlot]int64),
	}
}

func (t *eventTxn) addDelta(sender types.PublicKey, asset types.OptionalAsset, d int64) {
	if d == 0 {
		return
	}
	t.deltas[reservedSlot{sender: sender, asset: asset}] += d
}

func (t *eventTxn) putInfo(id types.Hash, info *OrderInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("order info marshal: %w", err)
	}
	return t.batch.Put(orderInfoKey(id), data)
}

func (t *eventTxn) putMeta(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("order marshal: %w", err)
	}
	return t.batch.Put(orderMetaKey(o.ID), data)
}

func (t *eventTxn) putAllRank(o *Order, rank byte) error {
	return t.batch.Put(allKey(o.SenderPK, o.Timestamp, o.ID), []byte{rank})
}

// install writes a fresh OrderInfo, indexes the order, and reserves its
// full obligation.
func (t *eventTxn) install(o *Order) (*OrderInfo, error) {
	info := &OrderInfo{
		Amount:       o.Amount,
		MinAmount:    MinAmountOfAmountAsset(o.Price),
		RemainingFee: o.MatcherFee,
	}
	if err := t.putInfo(o.ID, info); err != nil {
		return nil, err
	}
	if err := t.putMeta(o); err != nil {
		return nil, err
	}
	if err := t.batch.Put(activeKey(o), []byte{1}); err != nil {
		return nil, err
	}
	if err := t.putAllRank(o, rankActive); err != nil {
		return nil, err
	}
	for asset, amount := range Obligations(o, info) {
		t.addDelta(o.SenderPK, asset, amount)
	}
	return info, nil
}

// ensure returns the order's current info, installing it first if this is
// the order's first event (or it was previously cancelled and re-issued).
func (t *eventTxn) ensure(o *Order) (*OrderInfo, error) {
	info, err := t.hist.OrderInfo(o.ID)
	if err != nil {
		return nil, err
	}
	if info != nil && !info.Canceled {
		return info, nil
	}
	return t.install(o)
}

// fill advances one side of an execution: filled amount, prorated fee,
// reservation delta, and index maintenance.
func (t *eventTxn) fill(o *Order, info *OrderInfo, executed, execPrice int64) (*OrderInfo, error) {
	updated := *info
	updated.Filled += executed
	updated.RemainingFee = ProratedFee(o.MatcherFee, o.Amount-updated.Filled, o.Amount)
	if o.Side == Buy {
		updated.UnsafeTotalSpend += AmountOfPriceAsset(executed, execPrice)
	} else {
		updated.UnsafeTotalSpend += executed
	}

	oldObl := Obligations(o, info)
	newObl := Obligations(o, &updated)
	for asset, amount := range oldObl {
		t.addDelta(o.SenderPK, asset, -amount)
	}
	for asset, amount := range newObl {
		t.addDelta(o.SenderPK, asset, amount)
	}

	if err := t.putInfo(o.ID, &updated); err != nil {
		return nil, err
	}
	if !updated.Status().Active() {
		if err := t.batch.Delete(activeKey(o)); err != nil {
			return nil, err
		}
		if err := t.putAllRank(o, rankTerminal); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

// commit resolves the reservation deltas against stored balances and
// commits everything atomically. A balance that would go negative aborts
// the whole event.
func (t *eventTxn) commit() error {
	for slot, delta := range t.deltas {
		current, err := t.hist.ReservedBalanceOf(slot.sender, slot.asset)
		if err != nil {
			return err
		}
		updated := current + delta
		if updated < 0 {
			return fmt.Errorf("%w: account %s asset %s: %d%+d",
				ErrNegativeReserved, slot.sender, slot.asset, current, delta)
		}
		key := reservedKey(slot.sender, slot.asset)
		if updated == 0 {
			if err := t.batch.Delete(key); err != nil {
				return err
			}
			continue
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(updated))
		if err := t.batch.Put(key, buf[:]); err != nil {
			return err
		}
	}
	return t.batch.Commit()
}
