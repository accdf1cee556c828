package scope

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrency to n permits. It is context-aware:
// Acquire unblocks if the context is cancelled. Semaphore wraps
// [golang.org/x/sync/semaphore.Weighted] with a single-permit-per-call
// API and an available-permit counter, matching the shape flow's
// MapPar and MapParUnordered need for their permit pool.
type Semaphore struct {
	w        *semaphore.Weighted
	cap      int64
	acquired atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
// Panics if n <= 0.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		panic("scope: NewSemaphore requires n > 0")
	}
	return &Semaphore{
		w:   semaphore.NewWeighted(int64(n)),
		cap: int64(n),
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
// Returns ctx.Err() on cancellation, nil on success.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.acquired.Add(1)
	return nil
}

// TryAcquire attempts to acquire a permit without blocking.
// Returns true if acquired, false otherwise.
func (s *Semaphore) TryAcquire() bool {
	if s.w.TryAcquire(1) {
		s.acquired.Add(1)
		return true
	}
	return false
}

// Release releases a permit. Panics if more permits are released than
// acquired.
func (s *Semaphore) Release() {
	if s.acquired.Add(-1) < 0 {
		s.acquired.Add(1) // undo
		panic("scope: Semaphore.Release called without matching Acquire")
	}
	s.w.Release(1)
}

// Available returns the number of available permits.
// The value may be stale in concurrent contexts.
func (s *Semaphore) Available() int {
	return int(s.cap - s.acquired.Load())
}
