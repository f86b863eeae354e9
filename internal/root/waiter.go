package root

import (
	"context"
	"sync"
	"time"
)

// Outcome is how a Wait call ended.
type Outcome int

const (
	// Satisfied means the predicate held.
	Satisfied Outcome = iota
	// TimedOut means the timeout elapsed first.
	TimedOut
	// Cancelled means the root went away or the caller gave up.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Waiter lets any number of goroutines block until a root's journal changes.
// Each Notify closes the current broadcast channel and installs a fresh one.
type Waiter struct {
	mu      sync.Mutex
	changed chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWaiter creates a waiter with no pending notifications.
func NewWaiter() *Waiter {
	return &Waiter{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Notify wakes every current waiter so it re-evaluates its predicate.
func (w *Waiter) Notify() {
	w.mu.Lock()
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// Cancel wakes every waiter, present and future, with Cancelled.
func (w *Waiter) Cancel() {
	w.once.Do(func() { close(w.done) })
}

// Done is closed once the waiter is cancelled.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until pred returns true, timeout elapses (never when timeout is
// zero or less), ctx ends, or the waiter is cancelled.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration, pred func() bool) Outcome {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Take the channel before testing pred so a Notify in between is not lost.
		w.mu.Lock()
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-w.done:
			return Cancelled
		default:
		}

		if pred() {
			return Satisfied
		}

		select {
		case <-changed:
		case <-w.done:
			return Cancelled
		case <-deadline:
			return TimedOut
		case <-ctx.Done():
			return Cancelled
		}
	}
}
