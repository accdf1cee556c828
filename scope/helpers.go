package scope

import (
	"context"
	"fmt"
)

// ForEachSlice executes fn for each item in the slice concurrently,
// using the provided options to control concurrency and error policy.
//
// This is a convenience wrapper around [Supervised] and [Spawner.Go].
//
//	err := scope.ForEachSlice(ctx, urls, func(ctx context.Context, u string) error {
//	    return fetch(ctx, u)
//	}, scope.WithLimit(10))
func ForEachSlice[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error, opts ...Option) error {
	return Supervised(ctx, func(sp Spawner) {
		for i, item := range items {
			i, item := i, item
			sp.Go(fmt.Sprintf("foreach[%d]", i), func(ctx context.Context) error {
				return fn(ctx, item)
			})
		}
	}, opts...)
}

// MapSlice executes fn for each item concurrently and collects the
// results in the same order as the input slice. It uses [FailFast]
// policy by default; pass [WithPolicy]([Collect]) to let every item run
// and receive all failures joined into one error.
//
// On error, MapSlice returns nil and the error. On success, it returns
// the results slice and nil.
//
//	prices, err := scope.MapSlice(ctx, products, func(ctx context.Context, p Product) (float64, error) {
//	    return fetchPrice(ctx, p)
//	}, scope.WithLimit(5))
func MapSlice[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) ([]R, error) {
	results := make([]R, len(items))
	err := Supervised(ctx, func(sp Spawner) {
		for i, item := range items {
			i, item := i, item
			sp.Go(fmt.Sprintf("map[%d]", i), func(ctx context.Context) error {
				r, err := fn(ctx, item)
				if err != nil {
					return err
				}
				results[i] = r // safe: each goroutine writes a unique index
				return nil
			})
		}
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}
