package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/pkg/types"
)

// EmitFunc delivers an OrderEvent to whatever broadcasts it onward (the
// EventBus, in practice). Implementations must not block.
type EmitFunc func(types.OrderEvent)

// waiterSet manages one-shot wake-up channels keyed by an id. A wake-up is
// delivered at-most-once; a late wake with no registered waiter is a no-op.
type waiterSet struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newWaiterSet() *waiterSet {
	return &waiterSet{chans: make(map[string]chan struct{})}
}

func (w *waiterSet) register(id string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.chans[id] = ch
	return ch
}

func (w *waiterSet) wake(id string) {
	w.mu.Lock()
	ch, ok := w.chans[id]
	if ok {
		delete(w.chans, id)
	}
	w.mu.Unlock()
	if ok {
		close(ch)
	}
}

// StateMachine owns order lifecycle transitions against a Pool, emitting
// OrderEvents and waking submit/cancel callers through one-shot channels.
type StateMachine struct {
	pool         *Pool
	emit         EmitFunc
	createWaits  *waiterSet
	cancelWaits  *waiterSet
	now          func() time.Time
}

// NewStateMachine builds a StateMachine bound to pool, emitting events via emit.
func NewStateMachine(pool *Pool, emit EmitFunc) *StateMachine {
	return &StateMachine{
		pool:        pool,
		emit:        emit,
		createWaits: newWaiterSet(),
		cancelWaits: newWaiterSet(),
		now:         time.Now,
	}
}

func (sm *StateMachine) appendTransition(o *types.OrderSnapshot, status types.OrderStatus) {
	o.Props.Status = status
	o.StatusHistory = append(o.StatusHistory, types.StatusTransition{Status: status, Time: sm.now()})
}

// Submit inserts a new order in the Creating state and returns its ref.
// No event is emitted for this transition (∅ → Creating).
func (sm *StateMachine) Submit(header types.OrderHeader, price decimal.Decimal) *OrderRef {
	snapshot := &types.OrderSnapshot{
		Header: header,
		Props: types.OrderProps{
			Price:  price,
			Status: types.StatusCreating,
		},
	}
	snapshot.StatusHistory = append(snapshot.StatusHistory, types.StatusTransition{
		Status: types.StatusCreating,
		Time:   sm.now(),
	})
	return sm.pool.AddInitial(snapshot)
}

// RegisterCreateWaiter returns a channel closed when clientID's order
// reaches Created or FailedToCreate.
func (sm *StateMachine) RegisterCreateWaiter(clientID string) <-chan struct{} {
	return sm.createWaits.register(clientID)
}

// RegisterCancelWaiter returns a channel closed when exchangeID's order
// reaches Canceled.
func (sm *StateMachine) RegisterCancelWaiter(exchangeID string) <-chan struct{} {
	return sm.cancelWaits.register(exchangeID)
}

// OrderCreated transitions Creating → Created, binding the exchange id.
// Duplicate reports (dual REST/WS source) for an already-Created order are
// silently discarded.
func (sm *StateMachine) OrderCreated(clientID, exchangeID string, source types.EventSourceType) error {
	ref, ok := sm.pool.GetByClient(clientID)
	if !ok {
		return fmt.Errorf("orders: order_created for unknown client_order_id %q", clientID)
	}

	already := false
	ref.WithRead(func(o *types.OrderSnapshot) {
		already = o.Props.Status != types.StatusCreating
	})
	if already {
		return nil
	}

	if _, err := sm.pool.BindExchangeID(clientID, exchangeID); err != nil {
		return err
	}

	var snap *types.OrderSnapshot
	ref.WithWrite(func(o *types.OrderSnapshot) {
		sm.appendTransition(o, types.StatusCreated)
		snap = o.Clone()
	})

	sm.emit(types.OrderEvent{ClientOrderID: clientID, Kind: types.CreateOrderSucceeded, Snapshot: snap})
	sm.createWaits.wake(clientID)
	return nil
}

// OrderCreateFailed transitions Creating → FailedToCreate.
func (sm *StateMachine) OrderCreateFailed(clientID string) error {
	ref, ok := sm.pool.GetByClient(clientID)
	if !ok {
		return fmt.Errorf("orders: order_create_failed for unknown client_order_id %q", clientID)
	}

	already := false
	var snap *types.OrderSnapshot
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.Status.IsTerminal() {
			already = true
			return
		}
		sm.appendTransition(o, types.StatusFailedToCreate)
		snap = o.Clone()
	})
	if already {
		return nil
	}

	sm.pool.RemoveFromNotFinished(clientID)
	sm.emit(types.OrderEvent{ClientOrderID: clientID, Kind: types.CreateOrderFailed, Snapshot: snap})
	sm.createWaits.wake(clientID)
	return nil
}

// Cancel transitions Created → Canceling. No event is emitted.
func (sm *StateMachine) Cancel(clientID string) error {
	ref, ok := sm.pool.GetByClient(clientID)
	if !ok {
		return fmt.Errorf("orders: cancel for unknown client_order_id %q", clientID)
	}
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.Status == types.StatusCreated {
			sm.appendTransition(o, types.StatusCanceling)
		}
	})
	return nil
}

// OrderCancelled transitions Canceling → Canceled, marking the
// was_cancellation_event_raised flag so FillCoordinator refuses further
// fills. A no-op on an order already in a terminal state (Canceled,
// Completed, FailedToCreate).
func (sm *StateMachine) OrderCancelled(clientID string, source types.EventSourceType) error {
	ref, ok := sm.pool.GetByClient(clientID)
	if !ok {
		return fmt.Errorf("orders: order_cancelled for unknown client_order_id %q", clientID)
	}

	already := false
	var exchangeID string
	var snap *types.OrderSnapshot
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.Status.IsTerminal() {
			already = true
			return
		}
		o.Internal.WasCancellationEventRaised = true
		sm.appendTransition(o, types.StatusCanceled)
		exchangeID = o.Props.ExchangeOrderID
		snap = o.Clone()
	})
	if already {
		return nil
	}

	sm.pool.RemoveFromNotFinished(clientID)
	sm.emit(types.OrderEvent{ClientOrderID: clientID, Kind: types.CancelOrderSucceeded, Snapshot: snap})
	if exchangeID != "" {
		sm.cancelWaits.wake(exchangeID)
	}
	return nil
}

// CancelTimeout forces any non-terminal order to Canceled after a grace
// period elapses with no confirmation from the venue.
func (sm *StateMachine) CancelTimeout(clientID string) error {
	return sm.OrderCancelled(clientID, types.SourceFallbackOnly)
}

// EmitOrderFilled broadcasts an OrderFilled event. FillCoordinator calls
// this after appending a fill rather than emitting directly, so the
// StateMachine remains the sole emitter of order lifecycle events.
func (sm *StateMachine) EmitOrderFilled(clientID string, snap *types.OrderSnapshot) {
	sm.emit(types.OrderEvent{ClientOrderID: clientID, Kind: types.OrderFilled, Snapshot: snap})
}

// MarkCompleted transitions Created/Canceling → Completed. Called by
// FillCoordinator once filled_amount reaches header.amount; OrderFilled
// must already have been emitted for the completing fill.
func (sm *StateMachine) MarkCompleted(ref *OrderRef) {
	clientID := ref.ClientOrderID()
	var snap *types.OrderSnapshot
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.Status == types.StatusCompleted {
			return
		}
		sm.appendTransition(o, types.StatusCompleted)
		snap = o.Clone()
	})
	if snap == nil {
		return
	}
	sm.pool.RemoveFromNotFinished(clientID)
	sm.emit(types.OrderEvent{ClientOrderID: clientID, Kind: types.OrderCompleted, Snapshot: snap})
}
