package approvals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultWaiterPollInterval = 15 * time.Second

// Resolution is the outcome of a wait. TimedOut means the approval was still
// pending when the timeout elapsed; the row itself is left pending.
type Resolution struct {
	Status   Status
	TimedOut bool
}

type approvalGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*Approval, error)
}

// Waiter suspends callers until an approval leaves pending. In-process
// resolutions are delivered over a channel; a coarse store poll covers
// resolutions applied by another process.
type Waiter struct {
	store        approvalGetter
	pollInterval time.Duration

	mu   sync.Mutex
	subs map[uuid.UUID][]chan Status
}

// NewWaiter creates a waiter backed by the given approval store.
func NewWaiter(store approvalGetter) *Waiter {
	return &Waiter{
		store:        store,
		pollInterval: defaultWaiterPollInterval,
		subs:         make(map[uuid.UUID][]chan Status),
	}
}

// WithPollInterval overrides the store poll cadence. Used by tests.
func (w *Waiter) WithPollInterval(d time.Duration) *Waiter {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

// Announce wakes any waiters for the approval. Call it after a successful
// Resolve in the same process.
func (w *Waiter) Announce(id uuid.UUID, status Status) {
	w.mu.Lock()
	channels := w.subs[id]
	delete(w.subs, id)
	w.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- status:
		default:
		}
	}
}

// Wait suspends until the approval leaves pending, the timeout elapses, or
// ctx is canceled. Cancellation wins over timeout.
func (w *Waiter) Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (Resolution, error) {
	ch := make(chan Status, 1)
	w.mu.Lock()
	w.subs[id] = append(w.subs[id], ch)
	w.mu.Unlock()
	defer w.unsubscribe(id, ch)

	// The approval may already be resolved before we subscribed.
	if res, done, err := w.check(ctx, id); err != nil || done {
		return res, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		case <-timer.C:
			return Resolution{Status: StatusPending, TimedOut: true}, nil
		case status := <-ch:
			return Resolution{Status: status}, nil
		case <-ticker.C:
			if res, done, err := w.check(ctx, id); err != nil || done {
				return res, err
			}
		}
	}
}

func (w *Waiter) check(ctx context.Context, id uuid.UUID) (Resolution, bool, error) {
	a, err := w.store.Get(ctx, id)
	if err != nil {
		return Resolution{}, false, err
	}
	if a.Status != StatusPending {
		return Resolution{Status: a.Status}, true, nil
	}
	return Resolution{}, false, nil
}

func (w *Waiter) unsubscribe(id uuid.UUID, ch chan Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	channels := w.subs[id]
	for i, c := range channels {
		if c == ch {
			w.subs[id] = append(channels[:i], channels[i+1:]...)
			break
		}
	}
	if len(w.subs[id]) == 0 {
		delete(w.subs, id)
	}
}
