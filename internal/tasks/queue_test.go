package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := New(8, 2)
	defer q.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if !q.TrySubmit("test.incr", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}) {
			t.Fatal("submit rejected on empty queue")
		}
	}
	q.Close()
	if got := ran.Load(); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := New(1, 1)
	defer q.Close()

	block := make(chan struct{})
	q.TrySubmit("test.block", func(ctx context.Context) error {
		<-block
		return nil
	})
	// Fill the buffer, then overflow it.
	q.TrySubmit("test.fill", func(ctx context.Context) error { return nil })
	accepted := q.TrySubmit("test.overflow", func(ctx context.Context) error { return nil })
	close(block)

	if accepted {
		t.Error("overflow task accepted on full queue")
	}
	if q.Dropped() == 0 {
		t.Error("dropped counter not incremented")
	}
}

func TestQueueErrorsObservable(t *testing.T) {
	q := New(8, 1)
	defer q.Close()

	boom := errors.New("boom")
	q.TrySubmit("test.fail", func(ctx context.Context) error { return boom })

	select {
	case err := <-q.Errors():
		if !errors.Is(err, boom) {
			t.Errorf("observed %v, want boom", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task error not observable")
	}
}

func TestQueueSubmitAfterDelays(t *testing.T) {
	q := New(8, 1)
	defer q.Close()

	var ran atomic.Bool
	q.SubmitAfter(15*time.Millisecond, "test.delayed", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if ran.Load() {
		t.Fatal("delayed task ran immediately")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() {
		if time.Now().After(deadline) {
			t.Fatal("delayed task never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueueCloseCancelsPendingDelays(t *testing.T) {
	q := New(8, 1)

	var ran atomic.Bool
	q.SubmitAfter(time.Hour, "test.never", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Close()
	q.Close() // idempotent

	if ran.Load() {
		t.Error("cancelled delayed task ran anyway")
	}
	if q.TrySubmit("test.late", func(ctx context.Context) error { return nil }) {
		t.Error("submit accepted after close")
	}
}
