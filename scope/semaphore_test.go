package scope_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlib/flow/scope"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := scope.NewSemaphore(2)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sem.Acquire(context.Background()))
			defer sem.Release()

			n := active.Add(1)
			defer active.Add(-1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestSemaphoreAcquireRespectsContext(t *testing.T) {
	sem := scope.NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := sem.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreTryAcquire(t *testing.T) {
	sem := scope.NewSemaphore(1)
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire())
	sem.Release()
	assert.True(t, sem.TryAcquire())
}

func TestSemaphoreAvailable(t *testing.T) {
	sem := scope.NewSemaphore(3)
	assert.Equal(t, 3, sem.Available())
	require.NoError(t, sem.Acquire(context.Background()))
	assert.Equal(t, 2, sem.Available())
	sem.Release()
	assert.Equal(t, 3, sem.Available())
}

func TestSemaphoreReleaseWithoutAcquirePanics(t *testing.T) {
	sem := scope.NewSemaphore(1)
	assert.Panics(t, func() { sem.Release() })
}

func TestNewSemaphorePanicsOnNonPositive(t *testing.T) {
	assert.Panics(t, func() { scope.NewSemaphore(0) })
	assert.Panics(t, func() { scope.NewSemaphore(-1) })
}
