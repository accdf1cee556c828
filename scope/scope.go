// Package scope provides structured-concurrency primitives: a region
// that owns a set of child tasks ("goroutines"), waits for them at
// exit, and aggregates their errors according to a configured policy.
//
// Two scope shapes are exposed, matching the two concurrency patterns
// the flow operator algebra needs:
//
//   - [Supervised]: the first child failure cancels every sibling and
//     is re-raised to the caller once all siblings have unwound. This
//     is the shape a whole flow run executes in, and the shape of
//     mapParUnordered's inner scope of mapping calls.
//   - [Unsupervised]: child failures are not auto-propagated; the
//     caller routes them explicitly, typically by writing to a
//     [github.com/flowlib/flow/chanx.Channel]'s error state. This is
//     the shape mapPar's producer needs: a mapping fork's failure must
//     reach the collector through the results channel, in order,
//     rather than tearing down the scope out of band. The other
//     channel-backed operators (async, merge, flatten, interleave,
//     zip, groupedWithin, ...) run their producers in this shape too.
//
// Within either, a [Spawner] spawns child tasks. [Spawner.Spawn] waits
// for the child at scope exit ("forkUser" in the terminology of the
// flow specification); [Spawner.Go] is sugar for the common case of a
// task with no sub-spawner. [ForkValue] and [ForkCancellable] spawn a
// task that produces a typed result and can be joined or cancelled
// individually, independent of the rest of the scope.
package scope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// TaskFunc is the signature for a task function running within a scope.
// It receives a context (cancelled when the scope ends) and a Spawner
// to spawn sub-tasks.
type TaskFunc func(ctx context.Context, sp Spawner) error

// scope is the internal state of a structured concurrency region.
type scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	cfg    config

	wg sync.WaitGroup

	firstErr atomicError
	errOnce  sync.Once

	errMu         sync.Mutex
	errs          []*TaskError
	droppedErrors int

	panicMu sync.Mutex
	panics  []*PanicError

	sem chan struct{}

	finOnce  sync.Once
	finErr   error
	finPanic *PanicError

	totalSpawned atomic.Int64
	activeTasks  atomic.Int64
	completed    atomic.Int64
	errored      atomic.Int64
	panicked     atomic.Int64
	cancelled    atomic.Int64
}

// Supervised creates a [Scope], invokes fn with its root [Spawner], then
// waits for every spawned task to complete. It returns the aggregated
// error according to the configured [Policy] (default [FailFast]).
//
// Supervised is the primary entry point for the "everything cancels
// together" concurrency shape. The scope is automatically finalized
// when fn returns, so no explicit cleanup is needed.
func Supervised(parent context.Context, fn func(sp Spawner), opts ...Option) (err error) {
	sc, sp := New(parent, opts...)

	defer func() {
		runPanic := recover()

		sc.root.close()

		waitErr, waitPanic := sc.s.finalize()

		if runPanic != nil {
			panic(runPanic)
		}
		if waitPanic != nil {
			panic(waitPanic)
		}

		err = waitErr
	}()

	fn(sp)
	return nil
}

// Run is an alias for [Supervised], kept for callers migrating from
// the unqualified structured-concurrency entry point.
func Run(parent context.Context, fn func(sp Spawner), opts ...Option) error {
	return Supervised(parent, fn, opts...)
}

// Unsupervised creates a [Scope] and root [Spawner] for manual lifecycle
// control. Unlike [Supervised], a child task's error does not cancel
// its siblings: the caller is responsible for routing failures (for
// example, through a channel's error state) and must call [Scope.Wait]
// to finalize the scope and collect errors.
//
// Use Unsupervised when an operator needs to observe a child's failure
// through a data channel, in order, rather than via scope cancellation
// — this is how mapPar's producer fork routes mapping-fork errors to
// the results channel instead of killing siblings immediately.
func Unsupervised(parent context.Context, opts ...Option) (*Scope, Spawner) {
	opts = append(append([]Option{}, opts...), withManualPolicy())
	return New(parent, opts...)
}

func withManualPolicy() Option {
	return func(c *config) {
		c.policy = manual
	}
}

// manual is an internal policy used by [Unsupervised]: task errors are
// recorded for [Scope.Wait] but never cancel siblings on their own.
const manual Policy = -1

// finalize waits for all tasks to complete and returns the aggregated error.
func (s *scope) finalize() (error, *PanicError) {
	s.finOnce.Do(func() {
		s.wg.Wait()

		ctxWasCancelled := s.ctx.Err() != nil

		select {
		case <-s.ctx.Done():
		default:
			s.cancel(nil)
		}

		if !s.cfg.panicAsErr {
			s.panicMu.Lock()
			if len(s.panics) > 0 {
				s.finPanic = s.panics[0]
			}
			s.panicMu.Unlock()
		}

		switch s.cfg.policy {
		case FailFast:
			if v := s.firstErr.Load(); v != nil {
				s.finErr = v
			}
		case Collect, manual:
			s.errMu.Lock()
			if len(s.errs) > 0 {
				errs := make([]error, 0, len(s.errs))
				for _, te := range s.errs {
					errs = append(errs, te)
				}
				s.finErr = errors.Join(errs...)
			}
			s.errMu.Unlock()
		}

		if s.finErr == nil && ctxWasCancelled && s.cfg.policy != manual {
			s.finErr = s.ctx.Err()
		}
	})

	return s.finErr, s.finPanic
}

// exec runs a function with panic recovery.
func (s *scope) exec(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := newPanicError(r)
			if s.cfg.panicAsErr {
				err = pe
			} else {
				s.panicMu.Lock()
				s.panics = append(s.panics, pe)
				s.panicMu.Unlock()
				s.panicked.Add(1)
				if s.cfg.policy != manual {
					s.cancel(pe)
				}
			}
		}
	}()
	return fn(s.ctx)
}

func (s *scope) emitCompletionEvent(info TaskInfo, err error, d time.Duration) {
	if s.cfg.onEvent == nil {
		return
	}

	var kind EventKind
	switch {
	case err == nil:
		kind = EventDone
	case errors.As(err, new(*PanicError)):
		kind = EventPanicked
	case s.ctx.Err() != nil:
		kind = EventCancelled
	default:
		kind = EventErrored
	}

	s.cfg.onEvent(TaskEvent{
		Kind:     kind,
		Task:     info,
		Err:      err,
		Duration: d,
	})
}

// recordError records an error according to the configured policy.
func (s *scope) recordError(taskInfo TaskInfo, err error) {
	te := &TaskError{Task: taskInfo, Err: err}
	s.errored.Add(1)

	switch s.cfg.policy {
	case FailFast:
		s.errOnce.Do(func() {
			s.firstErr.Store(te)
			s.cancel(err)
		})
	case Collect, manual:
		s.errMu.Lock()
		if s.cfg.maxErrors > 0 && len(s.errs) >= s.cfg.maxErrors {
			s.droppedErrors++
		} else {
			s.errs = append(s.errs, te)
		}
		s.errMu.Unlock()
	}
}

func (s *scope) snapshot() Metrics {
	return Metrics{
		TotalSpawned: s.totalSpawned.Load(),
		ActiveTasks:  s.activeTasks.Load(),
		Completed:    s.completed.Load(),
		Errored:      s.errored.Load(),
		Panicked:     s.panicked.Load(),
		Cancelled:    s.cancelled.Load(),
	}
}

func (s *scope) startMetricsLoop() {
	if s.cfg.onMetrics == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cfg.onMetrics(s.snapshot())
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Scope wraps the internal scope state and exposes lifecycle and
// observability methods. Create one via [New], [Supervised], or
// [Unsupervised]; finalize with [Scope.Wait].
type Scope struct {
	s        *scope
	root     *spawner
	once     sync.Once
	result   error
	panicVal *PanicError
}

// New creates a [Scope] and root [Spawner] for manual lifecycle control.
// The caller must call [Scope.Wait] to finalize the scope and collect
// errors.
//
// Prefer [Supervised] for the common "cancel together" case, and
// [Unsupervised] for the "route errors explicitly" case; use New
// directly only when neither convenience wrapper fits.
func New(parent context.Context, opts ...Option) (*Scope, Spawner) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancelCause(parent)
	s := &scope{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if cfg.limit > 0 {
		s.sem = make(chan struct{}, cfg.limit)
	}

	root := &spawner{s: s}
	root.open.Store(true)

	sc := &Scope{s: s, root: root}
	s.startMetricsLoop()

	return sc, root
}

// Wait closes the root [Spawner], waits for all spawned tasks to
// complete, and returns the aggregated error. If a task panicked and
// [WithPanicAsError] was not set, Wait re-panics with the captured
// [*PanicError].
//
// Wait is idempotent; subsequent calls return the same result.
func (sc *Scope) Wait() error {
	sc.once.Do(func() {
		sc.root.close()
		sc.result, sc.panicVal = sc.s.finalize()
	})

	if sc.panicVal != nil {
		panic(sc.panicVal)
	}
	return sc.result
}

// WaitTimeout waits like [Scope.Wait] but returns ctx.DeadlineExceeded
// if the scope has not finalized within d. The scope is not cancelled
// by a timeout; a later call to WaitTimeout or Wait observes the
// eventual result once tasks finish. Callers that want to stop the
// tasks on timeout should also call [Scope.Cancel].
func (sc *Scope) WaitTimeout(d time.Duration) error {
	done := make(chan struct{})
	go func() {
		sc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return sc.result
	case <-time.After(d):
		return context.DeadlineExceeded
	}
}

// Cancel cancels the scope's context with the given cause, signaling
// all tasks to stop. Subsequent calls have no additional effect on the
// context.
func (sc *Scope) Cancel(err error) {
	sc.s.cancel(err)
}

// Context returns the scope's context, which is cancelled when the
// scope finalizes or is explicitly cancelled via [Scope.Cancel].
func (sc *Scope) Context() context.Context {
	return sc.s.ctx
}

// ActiveTasks returns the number of tasks currently executing within the scope.
func (sc *Scope) ActiveTasks() int64 {
	return sc.s.activeTasks.Load()
}

// TotalSpawned returns the total number of tasks that have been spawned
// within the scope, including those that have already completed.
func (sc *Scope) TotalSpawned() int64 {
	return sc.s.totalSpawned.Load()
}

// DroppedErrors returns the number of errors that were not stored because
// the [WithMaxErrors] limit was reached. Only meaningful under [Collect].
func (sc *Scope) DroppedErrors() int {
	sc.s.errMu.Lock()
	defer sc.s.errMu.Unlock()
	return sc.s.droppedErrors
}

// Metrics returns a point-in-time snapshot of scope activity, the same
// shape delivered periodically via [WithOnMetrics].
func (sc *Scope) Metrics() Metrics {
	return sc.s.snapshot()
}
