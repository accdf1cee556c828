package scope

import "context"

// Fork is a handle to a task spawned via [ForkValue] or
// [ForkCancellable]. It supports [Fork.Join] (await the result,
// re-raising the task's error) and, for forks created with
// [ForkCancellable], [Fork.CancelNow] (best-effort preemptive
// interruption of that single task, independent of the rest of the
// scope).
type Fork[T any] struct {
	ch     chan forkResult[T]
	cancel context.CancelFunc
}

type forkResult[T any] struct {
	val T
	err error
}

// ForkValue spawns a named task that produces a typed value within
// the given scope, returning a [Fork] to join it later. The task
// participates in the scope's normal lifecycle and error policy same
// as [Spawner.Spawn]; ForkValue only adds the ability to collect its
// return value out of band.
//
// This is the primitive mapPar's mapping forks are built on: each
// input element becomes one ForkValue call, and the operator's
// collector joins them in input order.
func ForkValue[T any](sp Spawner, name string, fn func(ctx context.Context) (T, error)) *Fork[T] {
	return newFork(sp, name, fn, false)
}

// ForkCancellable is like [ForkValue] but the returned [Fork] also
// exposes [Fork.CancelNow], which cancels this task's context
// specifically without affecting the rest of the scope. Operators that
// commit to one of several concurrently-started tasks (for example
// racing several candidate sources and keeping only the winner) use
// this to preempt the losers. Because a cancellable fork's own
// cancellation is an expected outcome rather than a scope-level
// failure, its task does not participate in the scope's error policy
// — join its result explicitly if the caller needs to observe it.
func ForkCancellable[T any](sp Spawner, name string, fn func(ctx context.Context) (T, error)) *Fork[T] {
	return newFork(sp, name, fn, true)
}

func newFork[T any](sp Spawner, name string, fn func(ctx context.Context) (T, error), cancellable bool) *Fork[T] {
	raw := sp.(*spawner)
	f := &Fork[T]{ch: make(chan forkResult[T], 1)}

	var taskCtx context.Context
	if cancellable {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(raw.s.ctx)
		f.cancel = cancel
	}

	task := func(ctx context.Context, _ Spawner) error {
		runCtx := ctx
		if cancellable {
			runCtx = taskCtx
		}
		v, err := fn(runCtx)
		select {
		case f.ch <- forkResult[T]{val: v, err: err}:
		default:
		}
		return err
	}

	// A cancellable fork is typically a speculative or racing task:
	// its own cancellation (via CancelNow) is an expected outcome, not
	// a scope failure, so it runs detached from the error policy. A
	// plain ForkValue fork is a "user" task whose failure must
	// propagate — mapPar's mapping forks rely on this.
	if cancellable {
		raw.spawnBackground(name, task)
	} else {
		sp.Spawn(name, task)
	}

	return f
}

// Join blocks until the task completes or ctx is cancelled, whichever
// comes first. It returns the task's value and error; if ctx is
// cancelled first, it returns the zero value and ctx.Err() without
// consuming the task's eventual result.
func (f *Fork[T]) Join(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// CancelNow interrupts the fork's task by cancelling its private
// context. It is a no-op for forks created with [ForkValue], which
// share the scope's context and can only be stopped by cancelling the
// whole scope.
func (f *Fork[T]) CancelNow() {
	if f.cancel != nil {
		f.cancel()
	}
}

// SpawnResult is an alias for [ForkValue], kept for callers that only
// need to await a value and never cancel the individual task.
func SpawnResult[T any](sp Spawner, name string, fn func(ctx context.Context) (T, error)) *Fork[T] {
	return ForkValue(sp, name, fn)
}
