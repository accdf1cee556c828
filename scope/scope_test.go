package scope_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlib/flow/scope"
)

func TestSupervisedAllSuccess(t *testing.T) {
	var count atomic.Int32
	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		for i := 0; i < 10; i++ {
			sp.Go("task", func(ctx context.Context) error {
				count.Add(1)
				return nil
			})
		}
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10, count.Load())
}

func TestSupervisedFailFastCancelsSiblings(t *testing.T) {
	var cancelledObserved atomic.Bool
	boom := errors.New("boom")

	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		sp.Go("failing", func(ctx context.Context) error {
			return boom
		})
		sp.Go("long-runner", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				cancelledObserved.Store(true)
			case <-time.After(time.Second):
			}
			return ctx.Err()
		})
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, cancelledObserved.Load())
}

func TestSupervisedCollectJoinsAllErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		sp.Go("a", func(ctx context.Context) error { return errA })
		sp.Go("b", func(ctx context.Context) error { return errB })
		sp.Go("c", func(ctx context.Context) error { return nil })
	}, scope.WithPolicy(scope.Collect))

	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestSupervisedWithMaxErrorsCapsCollection(t *testing.T) {
	sc, sp := scope.New(context.Background(), scope.WithPolicy(scope.Collect), scope.WithMaxErrors(2))
	for i := 0; i < 5; i++ {
		sp.Go(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			return errors.New("fail")
		})
	}
	err := sc.Wait()
	require.Error(t, err)
	assert.Equal(t, 3, sc.DroppedErrors())
}

func TestSupervisedPanicReraisesByDefault(t *testing.T) {
	assert.Panics(t, func() {
		_ = scope.Supervised(context.Background(), func(sp scope.Spawner) {
			sp.Go("boom", func(ctx context.Context) error {
				panic("kaboom")
			})
		})
	})
}

func TestSupervisedWithPanicAsErrorConvertsToPanicError(t *testing.T) {
	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		sp.Go("boom", func(ctx context.Context) error {
			panic("kaboom")
		})
	}, scope.WithPanicAsError())

	require.Error(t, err)
	var pe *scope.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "kaboom")
}

func TestNestedSpawn(t *testing.T) {
	var leafDone atomic.Bool
	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		sp.Spawn("parent", func(ctx context.Context, child scope.Spawner) error {
			child.Go("leaf", func(ctx context.Context) error {
				leafDone.Store(true)
				return nil
			})
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, leafDone.Load())
}

func TestSpawnAfterScopeCloseFromWithinPanics(t *testing.T) {
	// A child spawner captured by a task must not be usable once that
	// task's function has returned: the structured-concurrency
	// invariant is "forks cannot outlive their scope".
	sc, sp := scope.New(context.Background())
	var captured scope.Spawner
	sp.Spawn("capture", func(ctx context.Context, child scope.Spawner) error {
		captured = child
		return nil
	})
	require.NoError(t, sc.Wait())

	assert.Panics(t, func() {
		captured.Go("late", func(ctx context.Context) error { return nil })
	})
}

func TestWithLimitBoundsConcurrency(t *testing.T) {
	var active, maxActive atomic.Int32

	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		for i := 0; i < 20; i++ {
			sp.Go("task", func(ctx context.Context) error {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}
	}, scope.WithLimit(3))

	require.NoError(t, err)
	assert.LessOrEqual(t, maxActive.Load(), int32(3))
}

func TestUnsupervisedDoesNotCancelSiblingsOnError(t *testing.T) {
	sc, sp := scope.Unsupervised(context.Background())

	var otherRan atomic.Bool
	sp.Go("failing", func(ctx context.Context) error {
		return errors.New("routed manually, not via cancellation")
	})
	sp.Go("other", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		select {
		case <-ctx.Done():
			// Would only happen if the scope wrongly auto-cancelled.
		default:
			otherRan.Store(true)
		}
		return nil
	})

	_ = sc.Wait()
	assert.True(t, otherRan.Load())
}

func TestWaitIsIdempotent(t *testing.T) {
	sc, sp := scope.New(context.Background())
	sp.Go("ok", func(ctx context.Context) error { return nil })

	err1 := sc.Wait()
	err2 := sc.Wait()
	assert.Equal(t, err1, err2)
}

func TestScopeCancelStopsBlockedTasks(t *testing.T) {
	sc, sp := scope.New(context.Background())
	started := make(chan struct{})
	sp.Go("blocked", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	sc.Cancel(errors.New("shutting down"))
	err := sc.Wait()
	require.Error(t, err)
}

func TestMetricsSnapshotCounters(t *testing.T) {
	var mu sync.Mutex
	var snapshots []scope.Metrics

	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		for i := 0; i < 5; i++ {
			sp.Go("ok", func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}
		for i := 0; i < 2; i++ {
			sp.Go("err", func(ctx context.Context) error {
				return errors.New("fail")
			})
		}
		time.Sleep(80 * time.Millisecond)
	}, scope.WithPolicy(scope.Collect), scope.WithOnMetrics(15*time.Millisecond, func(m scope.Metrics) {
		mu.Lock()
		snapshots = append(snapshots, m)
		mu.Unlock()
	}))

	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	assert.EqualValues(t, 7, last.TotalSpawned)
	assert.GreaterOrEqual(t, last.Completed, int64(5))
	assert.GreaterOrEqual(t, last.Errored, int64(2))
}

func TestWithOnMetricsPanicsOnInvalidArgs(t *testing.T) {
	assert.Panics(t, func() { scope.WithOnMetrics(0, func(scope.Metrics) {}) })
	assert.Panics(t, func() { scope.WithOnMetrics(time.Second, nil) })
}

func TestWithOnEventObservesLifecycle(t *testing.T) {
	var mu sync.Mutex
	kinds := map[scope.EventKind]int{}

	err := scope.Supervised(context.Background(), func(sp scope.Spawner) {
		sp.Go("ok", func(ctx context.Context) error { return nil })
		sp.Go("err", func(ctx context.Context) error { return errors.New("fail") })
	}, scope.WithPolicy(scope.Collect), scope.WithOnEvent(func(e scope.TaskEvent) {
		mu.Lock()
		kinds[e.Kind]++
		mu.Unlock()
	}))

	require.Error(t, err)
	assert.Equal(t, 1, kinds[scope.EventDone])
	assert.Equal(t, 1, kinds[scope.EventErrored])
}

func TestWaitTimeoutExpiresThenEventuallyResolves(t *testing.T) {
	sc, sp := scope.New(context.Background())
	sentinel := errors.New("delayed error")
	sp.Go("slow", func(ctx context.Context) error {
		time.Sleep(60 * time.Millisecond)
		return sentinel
	})

	err := sc.WaitTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = sc.Wait()
	assert.ErrorIs(t, err, sentinel)
}

func TestWaitTimeoutSucceedsBeforeDeadline(t *testing.T) {
	sc, sp := scope.New(context.Background())
	sp.Go("fast", func(ctx context.Context) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	assert.NoError(t, sc.WaitTimeout(time.Second))
}

func TestInvalidPolicyPanics(t *testing.T) {
	assert.Panics(t, func() { scope.WithPolicy(scope.Policy(99)) })
}

func TestNegativeLimitPanics(t *testing.T) {
	assert.Panics(t, func() { scope.WithLimit(-1) })
}
