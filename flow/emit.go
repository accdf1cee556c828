package flow

import "context"

// Emit is the push-callback contract fused sequential stages thread
// end-to-end so an entire chain of them runs as a single task with no
// inter-stage buffering. It accepts one value at a time and blocks (by
// virtue of whatever the terminal sink does inside the call) while
// downstream applies backpressure. A non-nil return unwinds upstream:
// [errTakeComplete] is caught by the operator that raised it and
// treated as clean completion; any other error propagates as failure.
type Emit[T any] func(ctx context.Context, v T) error
