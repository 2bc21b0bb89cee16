package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopCancelsContextAndRunsCancelOrdersOnce(t *testing.T) {
	t.Parallel()

	var calls int32
	m := New(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("cancelOrders called %d times, want 1", got)
	}
	select {
	case <-m.Context().Done():
	default:
		t.Fatal("expected root context to be cancelled")
	}
}

func TestStopToleratesCancelOrdersError(t *testing.T) {
	t.Parallel()

	m := New(context.Background(), func(ctx context.Context) error {
		return errors.New("still two orders open")
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop should not propagate cancelOrders error, got %v", err)
	}
}

func TestSuperviseRecoversPanic(t *testing.T) {
	t.Parallel()

	state := Supervise(nil, "fill-coordinator", func() {
		panic("overfill")
	})

	if !state.Recovered {
		t.Fatal("expected Recovered to be true")
	}
	if state.Message != "overfill" {
		t.Fatalf("Message = %q, want %q", state.Message, "overfill")
	}
	if state.Task != "fill-coordinator" {
		t.Fatalf("Task = %q, want fill-coordinator", state.Task)
	}
}

func TestSuperviseNoPanic(t *testing.T) {
	t.Parallel()

	ran := false
	state := Supervise(nil, "scheduler", func() { ran = true })

	if state.Recovered {
		t.Fatal("expected Recovered to be false")
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
}
