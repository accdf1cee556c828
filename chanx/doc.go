// Package chanx is the bounded channel and select substrate
// [github.com/flowlib/flow/flow]'s concurrent operators are built on.
//
// [Channel] wraps a native Go channel with an explicit terminal state
// (Open, Done, or Errored) so a failure has somewhere to live: once a
// producer calls [Channel.Fail], every subsequent [Channel.Receive]
// observes the cause immediately, even with values still sitting in
// the buffer, instead of requiring the consumer to drain the buffer
// first and discover the failure only once it runs dry. [Channel.Raw]
// exposes the underlying receive-only channel for composing with
// native select statements or with [SelectAny] directly.
//
// [SelectAny] performs a single dynamic N-way receive across a slice
// of same-typed channels, using reflect.Select the way a fixed-arity
// select would for two or three channels but generalized to a pool
// whose membership changes over its lifetime: flow.Merge and
// flow.FirstOf drop each source from the slice as it drains, and call
// SelectAny again on the updated set. flow.Flatten does not use
// SelectAny; it funnels every source into one shared Channel.
package chanx
