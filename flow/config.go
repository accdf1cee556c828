package flow

import "github.com/flowlib/flow/scope"

// DefaultBufferCapacity is the channel capacity concurrent operators
// use when a run's [Config] does not override it.
const DefaultBufferCapacity = 16

// Config carries the run-scoped parameters concurrent operators
// consult when they create internal channels or scopes: an explicit
// replacement for the distilled specification's implicit
// "context-provided BufferCapacity", per the design note that this
// value must never live in global mutable state.
type Config struct {
	// BufferCapacity sizes internal channels created by concurrent
	// operators (async, mapPar, merge, groupedWithin, ...). Must be
	// positive; zero means [DefaultBufferCapacity].
	BufferCapacity int

	// Policy is the [scope.Policy] used by the top-level run's scope.
	// Individual concurrent operators that need an unsupervised inner
	// scope (mapPar's producer, for instance) manage that internally
	// regardless of this setting.
	Policy scope.Policy

	// Logger receives operator lifecycle events for this run. Defaults
	// to the package-level logger set via [SetDefaultLogger].
	Logger Logger
}

func (c Config) bufferCapacity() int {
	if c.BufferCapacity > 0 {
		return c.BufferCapacity
	}
	return DefaultBufferCapacity
}

func (c Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger
}

// RunOption configures a single [Flow.Run] (or [Collect]/[Reduce]/...)
// invocation.
type RunOption func(*Config)

// WithBufferCapacity overrides the buffer capacity concurrent
// operators use for internal channels created during this run. Panics
// if n is not positive.
func WithBufferCapacity(n int) RunOption {
	if n <= 0 {
		panic("flow: WithBufferCapacity requires n > 0")
	}
	return func(c *Config) { c.BufferCapacity = n }
}

// WithRunPolicy overrides the top-level scope's error policy.
func WithRunPolicy(p scope.Policy) RunOption {
	return func(c *Config) { c.Policy = p }
}

// WithLogger overrides the logger used for this run.
func WithLogger(l Logger) RunOption {
	if l == nil {
		panic("flow: WithLogger requires a non-nil Logger")
	}
	return func(c *Config) { c.Logger = l }
}

func resolveConfig(opts []RunOption) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
