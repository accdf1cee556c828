package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flowlib/flow/config"
	"github.com/flowlib/flow/flow"
)

func main() {
	cfg := flow.Config{BufferCapacity: flow.DefaultBufferCapacity}
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source := flow.FromSlice([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	evens := source.Filter(func(n int) bool { return n%2 == 0 })
	doubled := flow.MapPar(evens, 3, func(n int) (int, error) {
		return n * 10, nil
	})
	windowed := doubled.GroupedWithin(3, 200*time.Millisecond)

	err := flow.ForEach(ctx, windowed, func(batch []int) error {
		fmt.Println("batch:", batch)
		return nil
	}, flow.WithBufferCapacity(cfg.BufferCapacity))

	if err != nil {
		fmt.Fprintln(os.Stderr, "flowdemo:", err)
		os.Exit(1)
	}
}
