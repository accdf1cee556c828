package scope

import "sync/atomic"

// atomicError provides lock-free, concurrent-safe storage for a single
// error value, including nil. atomic.Value rejects storing values of
// inconsistent concrete types (and a bare nil interface has no
// concrete type at all), so the error is boxed before storing.
type atomicError struct {
	v atomic.Value
}

type errorBox struct {
	err error
}

func (a *atomicError) Store(err error) {
	a.v.Store(errorBox{err: err})
}

func (a *atomicError) Load() error {
	b, ok := a.v.Load().(errorBox)
	if !ok {
		return nil
	}
	return b.err
}
