package flow

import (
	"context"
	"sync"
	"time"

	"github.com/flowlib/flow/chanx"
	"github.com/flowlib/flow/scope"
)

// Debounce emits the latest element once no new element has arrived
// for quiet. Sequential in shape — one element in flight at a time —
// but backed by the same timer-fork idea as groupedWithin: every new
// element re-arms the timer, and only a quiet period lets it fire.
func (f Flow[T]) Debounce(quiet time.Duration) Flow[T] {
	if quiet <= 0 {
		panic("flow: Debounce requires quiet > 0")
	}
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		upstream := chanx.NewChannel[T](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("debounce-upstream", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, f, cfg, upstream)
			return nil
		})

		var timer *time.Timer
		var timerC <-chan time.Time
		var latest T
		hasValue := false

		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer, timerC = nil, nil
			}
		}
		defer stopTimer()

		loopErr := func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case v, chOk := <-upstream.Raw():
					if !chOk {
						stopTimer()
						if upstream.State() == chanx.Errored {
							return upstream.Err()
						}
						if hasValue {
							return emit(ctx, latest)
						}
						return nil
					}
					latest, hasValue = v, true
					if timer == nil {
						timer = time.NewTimer(quiet)
					} else {
						timer.Reset(quiet)
					}
					timerC = timer.C
				case <-timerC:
					v := latest
					hasValue = false
					timer, timerC = nil, nil
					if err := emit(ctx, v); err != nil {
						return err
					}
				}
			}
		}()

		waitErr := scp.Wait()
		if loopErr != nil {
			return loopErr
		}
		return waitErr
	}}
}

// Partition splits f into two independently runnable flows: the first
// emits elements for which pred returns true, the second the rest.
// Both share one upstream pull through a single dispatcher task, so
// both returned flows must be driven concurrently; reading only one
// starves the dispatcher as soon as the other side's channel fills.
func (f Flow[T]) Partition(pred func(T) bool) (Flow[T], Flow[T]) {
	matchCh := make(chan T)
	restCh := make(chan T)
	var launchOnce sync.Once

	dispatch := func(ctx context.Context, sp scope.Spawner, cfg Config) {
		defer close(matchCh)
		defer close(restCh)
		_ = f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			dst := restCh
			if pred(v) {
				dst = matchCh
			}
			select {
			case dst <- v:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	launch := func(ctx context.Context, sp scope.Spawner, cfg Config) {
		launchOnce.Do(func() { go dispatch(ctx, sp, cfg) })
	}

	match := Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		launch(ctx, sp, cfg)
		return FromChannel(matchCh).run(ctx, sp, cfg, emit)
	}}
	rest := Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		launch(ctx, sp, cfg)
		return FromChannel(restCh).run(ctx, sp, cfg, emit)
	}}
	return match, rest
}

// Broadcast fans f's elements out to n independently consumed flows
// sharing one upstream pull. As with Partition, every returned flow
// must be driven concurrently or the slowest consumer backpressures
// the dispatcher and, through it, every sibling.
func (f Flow[T]) Broadcast(n int, bufSize int) []Flow[T] {
	if n <= 0 {
		panic("flow: Broadcast requires n > 0")
	}
	if bufSize <= 0 {
		panic("flow: Broadcast requires bufSize > 0")
	}

	outs := make([]chan T, n)
	for i := range outs {
		outs[i] = make(chan T, bufSize)
	}
	var launchOnce sync.Once

	dispatch := func(ctx context.Context, sp scope.Spawner, cfg Config) {
		defer func() {
			for _, ch := range outs {
				close(ch)
			}
		}()
		_ = f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			for _, ch := range outs {
				select {
				case ch <- v:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	launch := func(ctx context.Context, sp scope.Spawner, cfg Config) {
		launchOnce.Do(func() { go dispatch(ctx, sp, cfg) })
	}

	flows := make([]Flow[T], n)
	for i := range outs {
		ch := outs[i]
		flows[i] = Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
			launch(ctx, sp, cfg)
			return FromChannel((<-chan T)(ch)).run(ctx, sp, cfg, emit)
		}}
	}
	return flows
}

// raceCandidate pairs one FirstOf contender's output channel with the
// cancel func for its private task context.
type raceCandidate[T any] struct {
	ch     *chanx.Channel[T]
	cancel context.CancelFunc
}

// FirstOf races flows against each other and commits to whichever
// produces a value first, cancelling the rest and draining the winner
// exclusively from then on. Distinct from [Flow.Merge], which keeps
// draining every source for as long as they run. Returns [ErrEmptyPool]
// immediately if flows is empty.
func FirstOf[T any](flows ...Flow[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		if len(flows) == 0 {
			return ErrEmptyPool
		}

		scp, usp := scope.Unsupervised(ctx)
		cands := make([]*raceCandidate[T], len(flows))
		for i, fl := range flows {
			fl := fl
			taskCtx, cancel := context.WithCancel(ctx)
			ch := chanx.NewChannel[T](cfg.bufferCapacity())
			cands[i] = &raceCandidate[T]{ch: ch, cancel: cancel}
			usp.Go("firstof-candidate", func(context.Context) error {
				runIntoChannel(taskCtx, usp, fl, cfg, ch)
				return nil
			})
		}

		winner := -1
		raceErr := func() error {
			active := append([]*raceCandidate[T]{}, cands...)
			for len(active) > 0 {
				chs := make([]*chanx.Channel[T], len(active))
				for i, c := range active {
					chs[i] = c.ch
				}
				res, err := chanx.SelectAny(ctx, chs)
				if err != nil {
					return err
				}
				if !res.Ok {
					if res.Err != nil {
						return res.Err
					}
					active = append(active[:res.Index], active[res.Index+1:]...)
					continue
				}
				winningCand := active[res.Index]
				for gi, c := range cands {
					if c == winningCand {
						winner = gi
						break
					}
				}
				for i, c := range cands {
					if i != winner {
						c.cancel()
					}
				}
				return emit(ctx, res.Value)
			}
			return nil
		}()

		if raceErr == nil && winner != -1 {
			raceErr = drainChannel(ctx, cands[winner].ch, emit)
		}
		if winner == -1 {
			for _, c := range cands {
				c.cancel()
			}
		}

		waitErr := scp.Wait()
		if raceErr != nil {
			return raceErr
		}
		return waitErr
	}}
}
