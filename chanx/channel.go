package chanx

import (
	"context"
	"sync/atomic"
)

// State is the terminal-state lifecycle of a [Channel]: every Channel
// starts Open and moves to exactly one of Done or Errored, never back.
type State int32

const (
	// Open means the channel may still receive values.
	Open State = iota
	// Done means the producer finished normally; any values already
	// buffered are still deliverable.
	Done
	// Errored means the producer failed. An Errored channel supersedes
	// its buffered values: a pending Receive observes the error before
	// any value still sitting in the buffer, so a failure downstream is
	// never hidden behind stale, already-doomed data.
	Errored
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Done:
		return "Done"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Channel is a bounded FIFO with an explicit terminal state, the
// substrate flow's concurrent operators multiplex over. Unlike a bare
// Go channel, a Channel[T] carries a failure cause: when a producer
// calls Fail, every subsequent Receive observes that error immediately
// — even if values are still sitting in the internal buffer — instead
// of requiring the consumer to drain the buffer first and discover the
// failure only once it runs dry.
//
// A Channel is created Open via [NewChannel] and is terminated exactly
// once, by whichever of [Channel.Close] or [Channel.Fail] the producer
// calls first. Send panics if called after termination; Receive never
// panics.
type Channel[T any] struct {
	buf   chan T
	state atomic.Int32
	err   atomicErrBox
}

type atomicErrBox struct {
	v atomic.Value
}

type errBoxed struct{ err error }

func (a *atomicErrBox) store(err error) {
	a.v.Store(errBoxed{err: err})
}

func (a *atomicErrBox) load() error {
	b, ok := a.v.Load().(errBoxed)
	if !ok {
		return nil
	}
	return b.err
}

// NewChannel creates an Open Channel with the given buffer capacity.
// A capacity of 0 yields an unbuffered (synchronous-handoff) channel.
func NewChannel[T any](capacity int) *Channel[T] {
	return &Channel[T]{buf: make(chan T, capacity)}
}

// Send delivers v to the channel, blocking until there is buffer room,
// ctx is cancelled, or the channel is closed by another goroutine
// concurrently racing Send. It returns ctx.Err() on cancellation.
// Send panics if called after the channel has been terminated by
// [Channel.Close] or [Channel.Fail] — callers must not send once they
// have called either.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	select {
	case c.buf <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend attempts a non-blocking send. It returns true if v was
// enqueued, false if the buffer is full.
func (c *Channel[T]) TrySend(v T) bool {
	select {
	case c.buf <- v:
		return true
	default:
		return false
	}
}

// Close terminates the channel in the Done state. Safe to call exactly
// once; a second call to Close or Fail panics, matching the semantics
// of closing a native Go channel twice.
func (c *Channel[T]) Close() {
	if !c.state.CompareAndSwap(int32(Open), int32(Done)) {
		panic("chanx: Channel closed or failed more than once")
	}
	close(c.buf)
}

// Fail terminates the channel in the Errored state with cause err.
// Panics if err is nil, or if the channel was already terminated.
func (c *Channel[T]) Fail(err error) {
	if err == nil {
		panic("chanx: Channel.Fail requires a non-nil error")
	}
	if !c.state.CompareAndSwap(int32(Open), int32(Errored)) {
		panic("chanx: Channel closed or failed more than once")
	}
	c.err.store(err)
	close(c.buf)
}

// State returns the channel's current terminal state.
func (c *Channel[T]) State() State {
	return State(c.state.Load())
}

// Err returns the failure cause set by [Channel.Fail], or nil if the
// channel is Open or terminated via [Channel.Close].
func (c *Channel[T]) Err() error {
	return c.err.load()
}

// Receive returns the next value from the channel. ok is false once
// the channel has drained to termination: on Done, Receive first
// yields every buffered value in order, then reports !ok; on Errored,
// Receive reports the failure immediately, even with values still
// buffered, since those values are downstream of a producer that has
// already failed and are no longer trustworthy as a complete stream.
//
// Receive unblocks early with ctx.Err() if ctx is cancelled before a
// value or termination is observed.
func (c *Channel[T]) Receive(ctx context.Context) (v T, ok bool, err error) {
	if State(c.state.Load()) == Errored {
		return v, false, c.err.load()
	}

	select {
	case val, chOk := <-c.buf:
		if !chOk {
			if State(c.state.Load()) == Errored {
				return v, false, c.err.load()
			}
			return v, false, nil
		}
		return val, true, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Raw exposes the underlying receive-only Go channel for use in native
// select statements and in [SelectAny]. Reading from it follows plain
// Go channel-close semantics (no Errored pre-emption) — prefer
// [Channel.Receive] unless composing with other channels directly.
func (c *Channel[T]) Raw() <-chan T {
	return c.buf
}
