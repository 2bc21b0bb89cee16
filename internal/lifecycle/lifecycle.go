// Package lifecycle implements the process-wide cancellation token and
// graceful shutdown sequence described in spec.md §5: cancel-open-orders
// runs under a hard 5-second deadline, and a panic in any supervised task
// is captured at its root rather than crashing the process.
//
// Grounded on original_source/core/src/lifecycle/trading_engine.rs's
// EngineContext/graceful(), translated from its CancellationToken +
// AtomicBool "only once" idiom into context.Context + sync.Once.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const cancelOpenOrdersDeadline = 5 * time.Second

// CancelOpenOrdersFunc is invoked once during graceful shutdown to cancel
// every order still open across configured venues.
type CancelOpenOrdersFunc func(ctx context.Context) error

// Manager is the process-wide LifetimeManager: it owns the root
// cancellation context and coordinates the one-shot graceful shutdown
// sequence.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	cancelOrders CancelOpenOrdersFunc
	log          *slog.Logger

	done chan struct{}
}

// New builds a Manager derived from parent. cancelOrders may be nil if the
// caller has no venues to clean up (e.g. in tests).
func New(parent context.Context, cancelOrders CancelOpenOrdersFunc, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:          ctx,
		cancel:       cancel,
		cancelOrders: cancelOrders,
		log:          log.With("component", "lifecycle"),
		done:         make(chan struct{}),
	}
}

// Context returns the root cancellation context. Every long-running loop
// (BalancePositionLoop, RequestScheduler waits) should select on its
// Done() channel.
func (m *Manager) Context() context.Context { return m.ctx }

// Stop triggers graceful shutdown exactly once, blocking until it
// completes or its own deadline expires. Safe to call more than once;
// later callers simply wait for the first call's completion.
func (m *Manager) Stop(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.log.Info("graceful shutdown started")
		m.cancel()

		if m.cancelOrders != nil {
			deadline, cancel := context.WithTimeout(context.Background(), cancelOpenOrdersDeadline)
			defer cancel()
			if err := m.cancelOrders(deadline); err != nil {
				m.log.Warn("cancel-open-orders did not complete within deadline", "error", err)
			}
		}
		close(m.done)
	})

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports when graceful shutdown has finished.
func (m *Manager) Done() <-chan struct{} { return m.done }

// PanicState is what Supervise records about a recovered panic.
type PanicState struct {
	Task      string
	Message   string
	Recovered bool
}

// Supervise runs fn in a recovering wrapper: a panic inside fn is caught,
// logged, and reported in the returned PanicState rather than propagating — the root
// supervisor spec.md §5 requires, one per supervised task.
func Supervise(log *slog.Logger, task string, fn func()) (state PanicState) {
	if log == nil {
		log = slog.Default()
	}
	state = PanicState{Task: task}
	defer func() {
		if r := recover(); r != nil {
			state.Recovered = true
			state.Message = fmt.Sprint(r)
			log.Error("task panicked, recovered at supervisor root", "task", task, "panic", r)
		}
	}()
	fn()
	return state
}
