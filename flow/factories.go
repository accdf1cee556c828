package flow

import (
	"context"

	"github.com/flowlib/flow/chanx"
	"github.com/flowlib/flow/scope"
)

// UsingEmit builds a Flow directly from a body function that drives
// emissions itself. Every other factory in this file, and the whole
// operator algebra in ops_sequential.go/ops_concurrent.go, is
// expressed purely in terms of the run-func shape UsingEmit exposes —
// the algebra is agnostic to how values are produced.
func UsingEmit[T any](body func(ctx context.Context, sp scope.Spawner, emit Emit[T]) error) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, _ Config, emit Emit[T]) error {
		return body(ctx, sp, emit)
	}}
}

// FromSlice builds a Flow that emits every element of items in order.
func FromSlice[T any](items []T) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, _ scope.Spawner, _ Config, emit Emit[T]) error {
		for _, v := range items {
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
		return nil
	}}
}

// FromFunc builds a Flow from an iterator function. next should return
// (value, true, nil) for each element, then (_, false, nil) once
// exhausted, or (_, false, err) on failure.
func FromFunc[T any](next func(ctx context.Context) (T, bool, error)) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, _ scope.Spawner, _ Config, emit Emit[T]) error {
		for {
			v, ok, err := next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
	}}
}

// FromChannel builds a Flow that emits every value received from ch
// until it closes.
func FromChannel[T any](ch <-chan T) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, _ scope.Spawner, _ Config, emit Emit[T]) error {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if err := emit(ctx, v); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}}
}

// FromChanxChannel builds a Flow over a [chanx.Channel], observing its
// Errored terminal state as a flow failure instead of a clean finish.
func FromChanxChannel[T any](ch *chanx.Channel[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, _ scope.Spawner, _ Config, emit Emit[T]) error {
		for {
			v, ok, err := ch.Receive(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
	}}
}

// Empty returns a Flow that emits nothing and completes immediately.
func Empty[T any]() Flow[T] {
	return Flow[T]{run: func(ctx context.Context, _ scope.Spawner, _ Config, _ Emit[T]) error {
		return nil
	}}
}

// Concat runs each flow in flows in turn, in order, as a single
// logical flow. concat(a, empty) == a and concat(empty, a) == a follow
// directly since Empty contributes no emissions.
func Concat[T any](flows ...Flow[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		for _, f := range flows {
			if err := f.run(ctx, sp, cfg, emit); err != nil {
				return err
			}
		}
		return nil
	}}
}

// Prepend runs before before f, then f.
func Prepend[T any](f Flow[T], before Flow[T]) Flow[T] {
	return Concat(before, f)
}
