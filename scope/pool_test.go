package scope_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlib/flow/scope"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := scope.NewPool(context.Background(), 4)
	defer p.Close()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() error {
			defer wg.Done()
			n.Add(1)
			return nil
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 50, n.Load())
}

func TestPoolCloseAggregatesErrors(t *testing.T) {
	p := scope.NewPool(context.Background(), 2)

	errA := errors.New("a")
	errB := errors.New("b")
	require.NoError(t, p.Submit(func() error { return errA }))
	require.NoError(t, p.Submit(func() error { return errB }))
	require.NoError(t, p.Submit(func() error { return nil }))

	err := p.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestPoolSubmitAfterCloseFails(t *testing.T) {
	p := scope.NewPool(context.Background(), 1)
	require.NoError(t, p.Close())

	err := p.Submit(func() error { return nil })
	assert.ErrorIs(t, err, scope.ErrPoolClosed)

	assert.False(t, p.TrySubmit(func() error { return nil }))
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := scope.NewPool(context.Background(), 1)
	require.NoError(t, p.Submit(func() error { return errors.New("x") }))

	err1 := p.Close()
	err2 := p.Close()
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	p := scope.NewPool(context.Background(), 1)
	require.NoError(t, p.Submit(func() error {
		panic("kaboom")
	}))

	err := p.Close()
	require.Error(t, err)
	var pe *scope.PanicError
	require.ErrorAs(t, err, &pe)
}

func TestPoolStatsReflectActivity(t *testing.T) {
	p := scope.NewPool(context.Background(), 2)

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() error {
		<-block
		return nil
	}))

	assert.Eventually(t, func() bool {
		return p.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	close(block)
	require.NoError(t, p.Close())

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Submitted)
	assert.EqualValues(t, 1, stats.Completed)
	assert.Equal(t, 2, stats.Workers)
}

func TestNewPoolPanicsOnNonPositiveWorkers(t *testing.T) {
	assert.Panics(t, func() { scope.NewPool(context.Background(), 0) })
}

func TestWithQueueSizePanicsOnNegative(t *testing.T) {
	assert.Panics(t, func() { scope.WithQueueSize(-1) })
}
