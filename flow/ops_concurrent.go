package flow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlib/flow/chanx"
	"github.com/flowlib/flow/scope"
)

// runIntoChannel drives f to completion, routing every emission into ch
// and terminating ch with the matching outcome. It is the building
// block every channel-backed concurrent operator below uses to turn an
// upstream Flow into a [chanx.Channel].
func runIntoChannel[T any](ctx context.Context, sp scope.Spawner, f Flow[T], cfg Config, ch *chanx.Channel[T]) {
	err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
		return ch.Send(ctx, v)
	})
	if err != nil {
		ch.Fail(err)
		return
	}
	ch.Close()
}

// drainChannel pushes every value received from ch into emit until ch
// terminates, translating an Errored terminal state into the returned
// error.
func drainChannel[T any](ctx context.Context, ch *chanx.Channel[T], emit Emit[T]) error {
	for {
		v, ok, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := emit(ctx, v); err != nil {
			return abortEmit(err)
		}
	}
}

// Async inserts asynchronous decoupling at this point in the pipeline:
// upstream runs in its own task, feeding a buffered channel, while this
// stage drains that buffer independently — so a slow downstream no
// longer applies backpressure straight into upstream's own pace.
func (f Flow[T]) Async() Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		ch := chanx.NewChannel[T](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("async-upstream", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, f, cfg, ch)
			return nil
		})

		drainErr := drainChannel(ctx, ch, emit)
		waitErr := scp.Wait()
		if drainErr != nil {
			return drainErr
		}
		return waitErr
	}}
}

// MapPar applies fn to each element with at most parallelism concurrent
// invocations, emitting results in input order. A producer acquires a
// permit and forks each mapping call, enqueuing the fork handle into
// inProgress; a collector joins forks in order and forwards to results;
// the main emitter drains results into downstream. The first mapping
// failure fails results and, through scope cancellation, every
// in-flight fork.
func MapPar[T, U any](f Flow[T], parallelism int, fn func(T) (U, error)) Flow[U] {
	if parallelism <= 0 {
		panic("flow: MapPar requires parallelism > 0")
	}
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		sem := scope.NewSemaphore(parallelism)
		inProgress := chanx.NewChannel[*scope.Fork[U]](parallelism)
		results := chanx.NewChannel[U](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)

		usp.Go("mappar-producer", func(ctx context.Context) error {
			err := f.run(ctx, usp, cfg, func(ctx context.Context, v T) error {
				if err := sem.Acquire(ctx); err != nil {
					return err
				}
				fk := scope.ForkValue(usp, "mappar-map", func(ctx context.Context) (U, error) {
					defer sem.Release()
					return fn(v)
				})
				return inProgress.Send(ctx, fk)
			})
			if err != nil {
				inProgress.Fail(err)
			} else {
				inProgress.Close()
			}
			return nil
		})

		log := cfg.logger()
		usp.Go("mappar-collector", func(ctx context.Context) error {
			for {
				fk, ok, err := inProgress.Receive(ctx)
				if err != nil {
					results.Fail(err)
					return nil
				}
				if !ok {
					results.Close()
					return nil
				}
				val, err := fk.Join(ctx)
				if err != nil {
					log.Error("flow: mapPar mapping fork failed", "error", err)
					results.Fail(err)
					return nil
				}
				if err := results.Send(ctx, val); err != nil {
					return nil
				}
			}
		})

		drainErr := drainChannel(ctx, results, emit)
		// Stop the producer and any forks still running before waiting.
		scp.Cancel(nil)
		waitErr := scp.Wait()
		if drainErr != nil {
			return drainErr
		}
		return waitErr
	}}
}

// MapParUnordered is like [MapPar] but emits results in completion
// order rather than input order. Every mapping call runs as a user
// fork inside a supervised inner scope, so the first failure cancels
// every still-running mapping call; the outer unsupervised scope
// routes that failure to results instead of tearing down via the
// caller's own scope.
func MapParUnordered[T, U any](f Flow[T], parallelism int, fn func(T) (U, error)) Flow[U] {
	if parallelism <= 0 {
		panic("flow: MapParUnordered requires parallelism > 0")
	}
	return Flow[U]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[U]) error {
		results := chanx.NewChannel[U](cfg.bufferCapacity())
		sem := scope.NewSemaphore(parallelism)

		outerScope, outer := scope.Unsupervised(ctx)
		outer.Go("mapparunordered-upstream", func(ctx context.Context) error {
			err := scope.Supervised(ctx, func(inner scope.Spawner) {
				inner.Go("mapparunordered-drain", func(ctx context.Context) error {
					return f.run(ctx, inner, cfg, func(ctx context.Context, v T) error {
						if err := sem.Acquire(ctx); err != nil {
							return err
						}
						inner.Spawn("mapparunordered-map", func(ctx context.Context, _ scope.Spawner) error {
							defer sem.Release()
							u, err := fn(v)
							if err != nil {
								return err
							}
							return results.Send(ctx, u)
						})
						return nil
					})
				})
			})
			if err != nil {
				results.Fail(err)
			} else {
				results.Close()
			}
			return nil
		})

		drainErr := drainChannel(ctx, results, emit)
		waitErr := outerScope.Wait()
		if drainErr != nil {
			return drainErr
		}
		return waitErr
	}}
}

// Merge runs f and other concurrently, emitting whichever produces a
// value first, in arrival order. It keeps draining the side still open
// once the other reports Done, and fails as soon as either side fails.
func (f Flow[T]) Merge(other Flow[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		chA := chanx.NewChannel[T](cfg.bufferCapacity())
		chB := chanx.NewChannel[T](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("merge-left", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, f, cfg, chA)
			return nil
		})
		usp.Go("merge-right", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, other, cfg, chB)
			return nil
		})

		active := []*chanx.Channel[T]{chA, chB}
		mergeErr := func() error {
			for len(active) > 0 {
				res, err := chanx.SelectAny(ctx, active)
				if err != nil {
					return err
				}
				if !res.Ok {
					if res.Err != nil {
						return res.Err
					}
					active = append(append([]*chanx.Channel[T]{}, active[:res.Index]...), active[res.Index+1:]...)
					continue
				}
				if err := emit(ctx, res.Value); err != nil {
					return err
				}
			}
			return nil
		}()

		// Stop a side that is still sending before waiting for it.
		scp.Cancel(nil)
		waitErr := scp.Wait()
		if mergeErr != nil {
			return mergeErr
		}
		return waitErr
	}}
}

// Flatten runs every child flow produced by f concurrently, merging
// their elements into a single output. Unlike the reflect-select pool
// a dynamic merge normally needs, Flatten routes every producer — the
// outer flow-of-flows and each materialized child — into one shared
// channel under a reference count, closing it only once the outer flow
// and every child it produced have finished; the first failure from
// any of them fails the shared channel.
func Flatten[T any](f Flow[Flow[T]]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		shared := chanx.NewChannel[T](cfg.bufferCapacity())

		var active atomic.Int64
		active.Store(1)

		var termOnce sync.Once
		fail := func(err error) { termOnce.Do(func() { shared.Fail(err) }) }
		finish := func() {
			if active.Add(-1) == 0 {
				termOnce.Do(func() { shared.Close() })
			}
		}

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("flatten-outer", func(ctx context.Context) error {
			err := f.run(ctx, usp, cfg, func(ctx context.Context, child Flow[T]) error {
				active.Add(1)
				usp.Spawn("flatten-child", func(ctx context.Context, _ scope.Spawner) error {
					defer finish()
					childErr := child.run(ctx, usp, cfg, func(ctx context.Context, v T) error {
						return shared.Send(ctx, v)
					})
					if childErr != nil {
						fail(childErr)
					}
					return nil
				})
				return nil
			})
			if err != nil {
				fail(err)
			}
			finish()
			return nil
		})

		drainErr := drainChannel(ctx, shared, emit)
		waitErr := scp.Wait()
		if drainErr != nil {
			return drainErr
		}
		return waitErr
	}}
}

// Interleave emits segmentSize elements from f, then segmentSize from
// other, and so on, both running concurrently through channels. When
// one side finishes, eagerComplete decides whether to stop immediately
// or drain the remaining side to completion.
func (f Flow[T]) Interleave(other Flow[T], segmentSize int, eagerComplete bool) Flow[T] {
	if segmentSize <= 0 {
		panic("flow: Interleave requires segmentSize > 0")
	}
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		chans := [2]*chanx.Channel[T]{
			chanx.NewChannel[T](cfg.bufferCapacity()),
			chanx.NewChannel[T](cfg.bufferCapacity()),
		}
		flows := [2]Flow[T]{f, other}

		scp, usp := scope.Unsupervised(ctx)
		for i := range chans {
			ch, fl := chans[i], flows[i]
			usp.Go("interleave-side", func(ctx context.Context) error {
				runIntoChannel(ctx, usp, fl, cfg, ch)
				return nil
			})
		}

		var done [2]bool
		turn := 0
		interleaveErr := func() error {
			for !done[0] || !done[1] {
				cur := turn % 2
				turn++
				if done[cur] {
					if eagerComplete {
						return nil
					}
					cur = (cur + 1) % 2
					if done[cur] {
						return nil
					}
				}
				for i := 0; i < segmentSize; i++ {
					v, ok, err := chans[cur].Receive(ctx)
					if err != nil {
						return err
					}
					if !ok {
						done[cur] = true
						if eagerComplete {
							return nil
						}
						break
					}
					if err := emit(ctx, v); err != nil {
						return err
					}
				}
			}
			return nil
		}()

		// Stop a side that is still sending before waiting for it.
		scp.Cancel(nil)
		waitErr := scp.Wait()
		if interleaveErr != nil {
			return interleaveErr
		}
		return waitErr
	}}
}

// Pair is the element type [Zip] and [ZipAll] emit: one value from each
// side, paired positionally.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip pairs elements of fa and fb positionally, completing as soon as
// either side completes.
func Zip[A, B any](fa Flow[A], fb Flow[B]) Flow[Pair[A, B]] {
	return Flow[Pair[A, B]]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[Pair[A, B]]) error {
		chA := chanx.NewChannel[A](cfg.bufferCapacity())
		chB := chanx.NewChannel[B](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("zip-left", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, fa, cfg, chA)
			return nil
		})
		usp.Go("zip-right", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, fb, cfg, chB)
			return nil
		})

		zipErr := func() error {
			for {
				va, okA, errA := chA.Receive(ctx)
				if errA != nil {
					return errA
				}
				vb, okB, errB := chB.Receive(ctx)
				if errB != nil {
					return errB
				}
				if !okA || !okB {
					return nil
				}
				if err := emit(ctx, Pair[A, B]{First: va, Second: vb}); err != nil {
					return err
				}
			}
		}()

		// Stop the longer side, still sending, before waiting for it.
		scp.Cancel(nil)
		waitErr := scp.Wait()
		if zipErr != nil {
			return zipErr
		}
		return waitErr
	}}
}

// ZipAll is [Zip] that continues until both sides complete, substituting
// aDefault or bDefault on whichever side finished early.
func ZipAll[A, B any](fa Flow[A], fb Flow[B], aDefault A, bDefault B) Flow[Pair[A, B]] {
	return Flow[Pair[A, B]]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[Pair[A, B]]) error {
		chA := chanx.NewChannel[A](cfg.bufferCapacity())
		chB := chanx.NewChannel[B](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("zipall-left", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, fa, cfg, chA)
			return nil
		})
		usp.Go("zipall-right", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, fb, cfg, chB)
			return nil
		})

		var aDone, bDone bool
		zipErr := func() error {
			for {
				if aDone && bDone {
					return nil
				}
				va, vb := aDefault, bDefault
				gotAny := false
				if !aDone {
					v, ok, err := chA.Receive(ctx)
					if err != nil {
						return err
					}
					if ok {
						va, gotAny = v, true
					} else {
						aDone = true
					}
				}
				if !bDone {
					v, ok, err := chB.Receive(ctx)
					if err != nil {
						return err
					}
					if ok {
						vb, gotAny = v, true
					} else {
						bDone = true
					}
				}
				if aDone && bDone {
					return nil
				}
				if !gotAny {
					continue
				}
				if err := emit(ctx, Pair[A, B]{First: va, Second: vb}); err != nil {
					return err
				}
			}
		}()

		waitErr := scp.Wait()
		if zipErr != nil {
			return zipErr
		}
		return waitErr
	}}
}

// GroupedWithin is [Flow.GroupedWeightedWithin] with a cost of 1 per
// element, i.e. windows of at most n elements flushed early if duration
// elapses first.
func (f Flow[T]) GroupedWithin(n int, duration time.Duration) Flow[[]T] {
	return f.GroupedWeightedWithin(int64(n), duration, func(T) int64 { return 1 })
}

// GroupedWeightedWithin buffers elements and flushes whenever the
// accumulated cost reaches minWeight or duration elapses since the last
// flush, whichever comes first. The timer is armed/cancelled/re-armed
// around every flush; once it fires over an empty buffer it stays
// disarmed until the next element arrives, which flushes immediately
// and re-arms — this is the "timed-out" state the windowing design
// hinges on to guarantee empty windows never emit.
func (f Flow[T]) GroupedWeightedWithin(minWeight int64, duration time.Duration, cost func(T) int64) Flow[[]T] {
	if minWeight <= 0 {
		panic("flow: GroupedWeightedWithin requires minWeight > 0")
	}
	if duration <= 0 {
		panic("flow: GroupedWeightedWithin requires duration > 0")
	}
	return Flow[[]T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[[]T]) error {
		upstream := chanx.NewChannel[T](cfg.bufferCapacity())

		scp, usp := scope.Unsupervised(ctx)
		usp.Go("groupedwithin-upstream", func(ctx context.Context) error {
			runIntoChannel(ctx, usp, f, cfg, upstream)
			return nil
		})

		var buffer []T
		var accCost int64
		timerFired := false
		timerRunning := true
		timer := time.NewTimer(duration)
		defer timer.Stop()

		stopTimer := func() {
			if timerRunning {
				timer.Stop()
				timerRunning = false
			}
		}
		armTimer := func() {
			stopTimer()
			timer.Reset(duration)
			timerRunning = true
			timerFired = false
		}
		log := cfg.logger()
		flushNow := func() error {
			out := buffer
			flushedCost := accCost
			buffer = nil
			accCost = 0
			log.Debug("flow: window flushed", "size", len(out), "cost", flushedCost)
			return emit(ctx, out)
		}

		loopErr := func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					timerRunning = false
					if len(buffer) > 0 {
						if err := flushNow(); err != nil {
							return err
						}
						armTimer()
					} else {
						timerFired = true
					}
				case v, chOk := <-upstream.Raw():
					if !chOk {
						stopTimer()
						if upstream.State() == chanx.Errored {
							return upstream.Err()
						}
						if len(buffer) > 0 {
							return flushNow()
						}
						return nil
					}
					buffer = append(buffer, v)
					accCost += cost(v)
					if timerFired || accCost >= minWeight {
						if err := flushNow(); err != nil {
							return err
						}
						armTimer()
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

// Sink is the minimal destination [Flow.AlsoTo] and [Flow.AlsoToTap]
// route values to, alongside the primary downstream.
type Sink[T any] interface {
	Send(ctx context.Context, v T) error
	TrySend(v T) bool
	Fail(err error)
	Close()
}

// ChannelSink adapts a [chanx.Channel] to [Sink].
type ChannelSink[T any] struct {
	Ch *chanx.Channel[T]
}

func (s ChannelSink[T]) Send(ctx context.Context, v T) error { return s.Ch.Send(ctx, v) }

// TrySend reports false, instead of panicking, when the channel has
// already been closed or failed.
func (s ChannelSink[T]) TrySend(v T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	return s.Ch.TrySend(v)
}

func (s ChannelSink[T]) Fail(err error) {
	defer func() { _ = recover() }()
	s.Ch.Fail(err)
}

func (s ChannelSink[T]) Close() {
	defer func() { _ = recover() }()
	s.Ch.Close()
}

// AlsoTo emits every element downstream, then blockingly sends it to
// sink too. A downstream failure is propagated to sink before it is
// rethrown; a sink failure during send becomes the flow's own failure.
func (f Flow[T]) AlsoTo(sink Sink[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if err := emit(ctx, v); err != nil {
				return err
			}
			return sink.Send(ctx, v)
		})
		if err != nil {
			sink.Fail(err)
			return err
		}
		sink.Close()
		return nil
	}}
}

// AlsoToTap is [Flow.AlsoTo] with a non-blocking, best-effort send to
// sink: if sink has no room, the element still reaches downstream but
// not sink. Sink failures are swallowed; upstream failures are still
// forwarded to sink.
func (f Flow[T]) AlsoToTap(sink Sink[T]) Flow[T] {
	return Flow[T]{run: func(ctx context.Context, sp scope.Spawner, cfg Config, emit Emit[T]) error {
		log := cfg.logger()
		err := f.run(ctx, sp, cfg, func(ctx context.Context, v T) error {
			if err := emit(ctx, v); err != nil {
				return err
			}
			if !sink.TrySend(v) {
				log.Warn("flow: alsoToTap sink dropped element, no room")
			}
			return nil
		})
		if err != nil {
			sink.Fail(err)
			return err
		}
		sink.Close()
		return nil
	}}
}
