package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowlib/flow/scope"
)

// Map transforms every element of f through fn, preserving order. It
// is a function rather than a method because Go does not support
// generic methods that introduce a new type parameter on a generic
// receiver.
func Map[T, U any](f Flow[T], fn func(T) (U, error)) Flow[U] {
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			u, err := fn(v)
			if err != nil {
				return err
			}
			return emit(ctx, u)
		})
	}}
}

// Filter drops every element for which pred returns false.
func (f Flow[T]) Filter(pred func(T) bool) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if !pred(v) {
				return nil
			}
			return emit(ctx, v)
		})
	}}
}

// CollectMap drops elements for which pf reports false, emitting pf's
// transformed value for the rest. It is the partial-function
// counterpart to [Map]: think `filter` and `map` fused into one pass.
func CollectMap[T, U any](f Flow[T], pf func(T) (U, bool)) Flow[U] {
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			u, ok := pf(v)
			if !ok {
				return nil
			}
			return emit(ctx, u)
		})
	}}
}

// Tap runs fn as a side effect on every element without altering the
// stream. A failing fn fails the flow.
func (f Flow[T]) Tap(fn func(T) error) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if err := fn(v); err != nil {
				return err
			}
			return emit(ctx, v)
		})
	}}
}

// MapConcat emits every element of fn(t), in order, for each input t.
func MapConcat[T, U any](f Flow[T], fn func(T) ([]U, error)) Flow[U] {
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			us, err := fn(v)
			if err != nil {
				return err
			}
			for _, u := range us {
				if err := emit(ctx, u); err != nil {
					return err
				}
			}
			return nil
		})
	}}
}

// MapStateful folds a running state across the input, emitting one
// output per input element that step accepts, plus optionally one
// final element from onComplete over the last state. onComplete may be
// nil to skip the final emission.
func MapStateful[T, S, U any](
	f Flow[T],
	init S,
	step func(state S, v T) (next S, out U, emit bool),
	onComplete func(state S) (out U, emit bool),
) Flow[U] {
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		state := init
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			next, out, ok := step(state, v)
			state = next
			if !ok {
				return nil
			}
			return emit(ctx, out)
		})
		if err != nil {
			return err
		}
		if onComplete == nil {
			return nil
		}
		if out, ok := onComplete(state); ok {
			return emit(ctx, out)
		}
		return nil
	}}
}

// MapStatefulConcat is [MapStateful] where each accepted input may
// expand into any number of outputs, and onComplete may emit any
// number of trailing outputs.
func MapStatefulConcat[T, S, U any](
	f Flow[T],
	init S,
	step func(state S, v T) (next S, out []U),
	onComplete func(state S) []U,
) Flow[U] {
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		state := init
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			next, out := step(state, v)
			state = next
			for _, u := range out {
				if err := emit(ctx, u); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if onComplete == nil {
			return nil
		}
		for _, u := range onComplete(state) {
			if err := emit(ctx, u); err != nil {
				return err
			}
		}
		return nil
	}}
}

// Scan is the running-fold counterpart to [MapStateful] that emits
// every intermediate accumulation rather than folding down to a final
// state — closer to the teacher's Stream.Scan idiom than to Spark or
// Akka Streams' scan, but the same shape.
func Scan[T, R any](f Flow[T], initial R, fn func(acc R, v T) R) Flow[R] {
	return MapStateful(f, initial,
		func(state R, v T) (R, R, bool) {
			next := fn(state, v)
			return next, next, true
		},
		nil,
	)
}

// Intersperse optionally emits start first, then every input element
// separated by inject, then optionally end last.
func (f Flow[T]) Intersperse(start *T, inject T, end *T) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		if start != nil {
			if err := emit(ctx, *start); err != nil {
				return err
			}
		}
		first := true
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if !first {
				if err := emit(ctx, inject); err != nil {
					return err
				}
			}
			first = false
			return emit(ctx, v)
		})
		if err != nil {
			return err
		}
		if end != nil {
			return emit(ctx, *end)
		}
		return nil
	}}
}

// Take emits at most the first n elements, then unwinds upstream via
// [errTakeComplete] — caught here and converted to a clean finish, per
// the "explicit signal over exception" design note.
func (f Flow[T]) Take(n int) Flow[T] {
	if n < 0 {
		panic("flow: Take requires n >= 0")
	}
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		if n == 0 {
			return nil
		}
		stop := fmt.Errorf("%w", errTakeComplete)
		count := 0
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if err := emit(ctx, v); err != nil {
				return err
			}
			count++
			if count >= n {
				return stop
			}
			return nil
		})
		if errors.Is(err, stop) {
			return nil
		}
		return err
	}}
}

// TakeWhile emits elements while pred holds, stopping at the first
// element pred rejects. If includeFirstFailing is true, that rejected
// element is emitted before stopping.
func (f Flow[T]) TakeWhile(pred func(T) bool, includeFirstFailing bool) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		stop := fmt.Errorf("%w", errTakeComplete)
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if !pred(v) {
				if includeFirstFailing {
					if err := emit(ctx, v); err != nil {
						return err
					}
				}
				return stop
			}
			return emit(ctx, v)
		})
		if errors.Is(err, stop) {
			return nil
		}
		return err
	}}
}

// Drop skips the first n elements, emitting the rest unchanged.
func (f Flow[T]) Drop(n int) Flow[T] {
	if n < 0 {
		panic("flow: Drop requires n >= 0")
	}
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		skipped := 0
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if skipped < n {
				skipped++
				return nil
			}
			return emit(ctx, v)
		})
	}}
}

// Grouped buffers elements into slices of exactly n, emitting a final
// shorter slice for any remainder.
func (f Flow[T]) Grouped(n int) Flow[[]T] {
	if n <= 0 {
		panic("flow: Grouped requires n > 0")
	}
	return Flow[[]T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[[]T]) error {
		buf := make([]T, 0, n)
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			buf = append(buf, v)
			if len(buf) < n {
				return nil
			}
			out := buf
			buf = make([]T, 0, n)
			return emit(ctx, out)
		})
		if err != nil {
			return err
		}
		if len(buf) > 0 {
			return emit(ctx, buf)
		}
		return nil
	}}
}

// GroupedWeighted flushes the current buffer once its accumulated cost
// (via cost) reaches minWeight, emitting a final shorter buffer for
// any remainder.
func (f Flow[T]) GroupedWeighted(minWeight int64, cost func(T) int64) Flow[[]T] {
	if minWeight <= 0 {
		panic("flow: GroupedWeighted requires minWeight > 0")
	}
	return Flow[[]T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[[]T]) error {
		var buf []T
		var acc int64
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			buf = append(buf, v)
			acc += cost(v)
			if acc < minWeight {
				return nil
			}
			out := buf
			buf = nil
			acc = 0
			return emit(ctx, out)
		})
		if err != nil {
			return err
		}
		if len(buf) > 0 {
			return emit(ctx, buf)
		}
		return nil
	}}
}

// Sliding emits overlapping windows of n elements, advancing by step
// each time. The first window has size min(n, len(input)); a trailing
// partial window is emitted only if it was not already emitted
// mid-stream.
func (f Flow[T]) Sliding(n, step int) Flow[[]T] {
	if n <= 0 || step <= 0 {
		panic("flow: Sliding requires n > 0 and step > 0")
	}
	return Flow[[]T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[[]T]) error {
		var window []T
		count := 0
		lastEmittedAt := -1

		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			window = append(window, v)
			if len(window) > n {
				window = window[len(window)-n:]
			}
			count++
			if len(window) == n && (count-n)%step == 0 {
				out := make([]T, len(window))
				copy(out, window)
				lastEmittedAt = count
				return emit(ctx, out)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if count > 0 && count != lastEmittedAt {
			out := make([]T, len(window))
			copy(out, window)
			return emit(ctx, out)
		}
		return nil
	}}
}

// OrElse runs alt only if f completes cleanly having emitted zero
// elements. If f fails, the failure propagates and alt never runs.
func (f Flow[T]) OrElse(alt Flow[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		emitted := false
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			emitted = true
			return emit(ctx, v)
		})
		if err != nil {
			return err
		}
		if emitted {
			return nil
		}
		return alt.run(ctx, sp, cfg, emit)
	}}
}

// Throttle rate-limits emission to at most elements per per, sleeping
// between deliveries as needed. The measured rate includes whatever
// time downstream spends inside emit, since the sleep is computed from
// the time the previous emit call started.
func (f Flow[T]) Throttle(elements int, per time.Duration) Flow[T] {
	if elements <= 0 {
		panic("flow: Throttle requires elements > 0")
	}
	if per < time.Millisecond {
		panic("flow: Throttle requires per >= 1ms")
	}
	interval := per / time.Duration(elements)

	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		var last time.Time
		first := true
		return f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if !first {
				if wait := interval - time.Since(last); wait > 0 {
					t := time.NewTimer(wait)
					defer t.Stop()
					select {
					case <-t.C:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			first = false
			last = time.Now()
			return emit(ctx, v)
		})
	}}
}
