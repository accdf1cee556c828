package scope

import (
	"context"
	"sync/atomic"
	"time"
)

// Spawner allows spawning concurrent tasks into a scope.
type Spawner interface {
	// Spawn starts a new concurrent task with the given name. The task
	// function receives a child Spawner allowing it to create
	// sub-tasks. This is "forkUser" in the flow specification's
	// terminology: the enclosing scope waits for the task at exit and
	// its failure participates in the scope's error policy.
	Spawn(name string, fn TaskFunc)

	// Go is sugar for Spawn when the task does not need to spawn
	// sub-tasks of its own.
	Go(name string, fn func(ctx context.Context) error)
}

// spawner implements the Spawner interface and manages the lifecycle of tasks.
type spawner struct {
	s    *scope
	open atomic.Bool
}

func (sp *spawner) Go(name string, fn func(ctx context.Context) error) {
	sp.Spawn(name, func(ctx context.Context, _ Spawner) error {
		return fn(ctx)
	})
}

// Spawn implements Spawner.Spawn.
func (sp *spawner) Spawn(name string, fn TaskFunc) {
	sp.spawn(name, fn, true)
}

// spawnBackground starts a task that is tracked for leak-safety (the
// scope still waits for it at exit) but whose failure is never
// recorded against the scope's error policy. This is "fork" (as
// opposed to "forkUser") in the flow specification's terminology —
// used for the tasks of [ForkCancellable], whose natural end may be
// cancellation rather than success or failure.
func (sp *spawner) spawnBackground(name string, fn TaskFunc) {
	sp.spawn(name, fn, false)
}

func (sp *spawner) spawn(name string, fn TaskFunc, userTask bool) {
	// Check open BEFORE wg.Add to avoid TOCTOU race with finalize()'s wg.Wait().
	if !sp.open.Load() {
		panic("scope: Spawn called after scope shutdown")
	}

	sp.s.wg.Add(1)
	sp.s.totalSpawned.Add(1)
	sp.s.activeTasks.Add(1)

	info := TaskInfo{Name: name}

	go func() {
		defer sp.s.wg.Done()
		defer sp.s.activeTasks.Add(-1)

		if sp.s.sem != nil {
			select {
			case sp.s.sem <- struct{}{}:
				defer func() { <-sp.s.sem }()
			case <-sp.s.ctx.Done():
				sp.s.cancelled.Add(1)
				return
			}
		}

		if sp.s.ctx.Err() != nil {
			sp.s.cancelled.Add(1)
			return
		}

		// child spawner is valid only for the lifetime of the task;
		// spawning after the task function returns will panic.
		child := &spawner{s: sp.s}
		child.open.Store(true)

		start := time.Now()
		err := sp.s.exec(func(ctx context.Context) error {
			if sp.s.cfg.onStart != nil {
				sp.s.cfg.onStart(info)
			}
			return fn(ctx, child)
		})
		elapsed := time.Since(start)

		child.close()

		if err == nil {
			sp.s.completed.Add(1)
		}

		if sp.s.cfg.onDone != nil {
			sp.s.cfg.onDone(info, err, elapsed)
		}
		sp.s.emitCompletionEvent(info, err, elapsed)

		if err != nil && userTask {
			sp.s.recordError(info, err)
		}
	}()
}

// close marks the spawner as closed, preventing further Spawn calls.
func (sp *spawner) close() {
	sp.open.Store(false)
}
