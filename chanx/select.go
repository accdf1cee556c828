package chanx

import (
	"context"
	"reflect"
)

// SelectResult is one outcome of [SelectAny]: either a value from
// channel index Index, or termination of that channel (Ok false, Err
// set if it failed).
type SelectResult[T any] struct {
	Index int
	Value T
	Ok    bool
	Err   error
}

// SelectAny performs a single dynamic N-way receive across chs, using
// [reflect.Select] the way a fixed one-shot race over a few channels
// would, but generalized to a slice whose membership changes over the life of a
// multiplexer: callers rebuild the slice (append a newly arrived
// source, drop one that has drained) and call SelectAny again on the
// updated set.
//
// Because every source in a merge or flatten pool carries the same
// element type T, one homogeneous reflect-based select case list
// suffices — there is no need for a type-erased, heterogeneous case
// list the way a generic "select over anything" helper would require.
//
// SelectAny also monitors ctx.Done(); if ctx is cancelled before any
// channel is ready, it returns (zero, ctx.Err()). If chs is empty, it
// blocks until ctx is cancelled.
func SelectAny[T any](ctx context.Context, chs []*Channel[T]) (SelectResult[T], error) {
	cases := make([]reflect.SelectCase, 0, len(chs)+1)
	for _, ch := range chs {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ch.Raw()),
		})
	}
	doneIdx := len(cases)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, value, ok := reflect.Select(cases)
	if chosen == doneIdx {
		return SelectResult[T]{}, ctx.Err()
	}

	ch := chs[chosen]
	if !ok {
		if ch.State() == Errored {
			return SelectResult[T]{Index: chosen, Ok: false, Err: ch.Err()}, nil
		}
		return SelectResult[T]{Index: chosen, Ok: false}, nil
	}

	return SelectResult[T]{Index: chosen, Value: value.Interface().(T), Ok: true}, nil
}
