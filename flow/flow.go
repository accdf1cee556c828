// Package flow implements a pull-push hybrid streaming combinator
// library: composable descriptions of asynchronous value sequences
// ("flows") with bounded buffering, structured concurrency via
// [github.com/flowlib/flow/scope], and deterministic shutdown.
//
// A [Flow] is immutable and reusable — running it via [Flow.Run] (or
// a terminal helper like [Collect]) drives one independent execution;
// running the same Flow again is safe and shares no state with the
// first run unless a user callback captures shared state itself.
//
// Sequential operators (Map, Filter, Take, Grouped, ...) fuse into the
// upstream's run function and add no goroutines or channels. Operators
// under a concurrency bound (MapPar, Merge, GroupedWithin, ...) open
// [github.com/flowlib/flow/chanx.Channel]s and spawn tasks within a
// [github.com/flowlib/flow/scope.Scope], following the same
// supervised/unsupervised split the scope package exposes.
package flow

import (
	"context"
	"errors"

	"github.com/flowlib/flow/scope"
)

// runFunc drives one execution of a flow, pushing values through emit
// until upstream completes or fails. cfg is threaded explicitly rather
// than through ctx so BufferCapacity and friends stay an explicit,
// inspectable argument at every operator boundary.
type runFunc[T any] func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error

// Flow is an immutable, reusable description of a computation that
// produces zero or more values of type T followed by either
// successful completion or a single failure.
type Flow[T any] struct {
	run runFunc[T]
}

// Run drives f to completion, pushing every emitted value to sink. It
// returns the first failure observed from upstream or sink, or nil on
// clean completion. Run creates a top-level [scope.Supervised] region
// for the run, so any concurrent operator within f (mapPar, merge,
// flatten, ...) can spawn its own child tasks.
func (f Flow[T]) Run(ctx context.Context, sink Emit[T], opts ...RunOption) error {
	cfg := resolveConfig(opts)
	return scope.Supervised(ctx, func(sp scope.Spawner) {
		sp.Go("flow-run", func(ctx context.Context) error {
			err := f.run(ctx, sp, cfg, sink)
			if errors.Is(err, errTakeComplete) {
				return nil
			}
			return err
		})
	}, scope.WithPolicy(runPolicyOrDefault(cfg)))
}

func runPolicyOrDefault(cfg Config) scope.Policy {
	return cfg.Policy
}

// Collect drains f into a slice and returns it, or the first error
// observed.
func Collect[T any](ctx context.Context, f Flow[T], opts ...RunOption) ([]T, error) {
	var out []T
	err := f.Run(ctx, func(ctx context.Context, v T) error {
		out = append(out, v)
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach drains f, invoking fn for every emitted value. fn's error
// aborts the run and is returned by ForEach.
func ForEach[T any](ctx context.Context, f Flow[T], fn func(T) error, opts ...RunOption) error {
	return f.Run(ctx, func(ctx context.Context, v T) error {
		return fn(v)
	}, opts...)
}

// Reduce folds f into a single accumulated value using fn, starting
// from initial. It is [Flow]'s terminal analogue to [MapStateful]'s
// onComplete hook, useful for tests and simple aggregation without
// building a full operator chain.
func Reduce[T, R any](ctx context.Context, f Flow[T], initial R, fn func(acc R, v T) R, opts ...RunOption) (R, error) {
	acc := initial
	err := f.Run(ctx, func(ctx context.Context, v T) error {
		acc = fn(acc, v)
		return nil
	}, opts...)
	if err != nil {
		var zero R
		return zero, err
	}
	return acc, nil
}
