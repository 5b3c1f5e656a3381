package taskcore

import (
	"runtime"
	"time"
)

// executorOptions holds configuration resolved from a slice of Option values.
// Defaults mirror spec §6's configuration options table.
type executorOptions struct {
	maxPendingTasks       int
	globalQuietPeriod     time.Duration
	maxListenerStackDepth int
	availableProcessors   int
	shutdownTimeout       time.Duration
	threadFactory         ThreadFactory
	rejectionPolicy       RejectionPolicy
	ticker                Ticker
	logger                Logger
}

// Option configures an Executor, ExecutorGroup, or the package-level global
// executor. Not every option applies to every constructor; unused options are
// ignored by the constructor that doesn't consume them.
type Option interface {
	applyExecutor(*executorOptions) error
}

type optionFunc func(*executorOptions) error

func (f optionFunc) applyExecutor(opts *executorOptions) error {
	return f(opts)
}

// WithMaxPendingTasks bounds the per-executor task queue capacity. NewExecutor
// rounds n up to the next power of two; values below 1 give a capacity of 1.
func WithMaxPendingTasks(n int) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.maxPendingTasks = n
		return nil
	})
}

// WithGlobalQuietPeriod overrides the idle interval before the global
// executor's worker exits (default 1s).
func WithGlobalQuietPeriod(d time.Duration) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.globalQuietPeriod = d
		return nil
	})
}

// WithMaxListenerStackDepth overrides the stack-depth guard for nested
// listener notification (default 8, minimum 1).
func WithMaxListenerStackDepth(n int) Option {
	return optionFunc(func(opts *executorOptions) error {
		if n < 1 {
			n = 1
		}
		opts.maxListenerStackDepth = n
		return nil
	})
}

// WithAvailableProcessors records a CPU-count override (default
// runtime.NumCPU()). Nothing in this package reads it: NewExecutorGroup takes
// an explicit child count.
func WithAvailableProcessors(n int) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.availableProcessors = n
		return nil
	})
}

// WithShutdownTimeout sets the executor's initial unconditional-terminate
// timeout. ShutdownGracefully replaces it with its own timeout argument, so
// this value is never the one a graceful shutdown applies.
func WithShutdownTimeout(d time.Duration) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.shutdownTimeout = d
		return nil
	})
}

// WithThreadFactory overrides the collaborator used to spawn worker
// goroutines, letting the host set naming/priority-equivalent bookkeeping.
func WithThreadFactory(f ThreadFactory) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.threadFactory = f
		return nil
	})
}

// WithRejectionPolicy overrides the behavior applied when a submission finds
// a full task queue.
func WithRejectionPolicy(p RejectionPolicy) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.rejectionPolicy = p
		return nil
	})
}

// WithTicker overrides the monotonic time source, primarily for tests that
// need a mock Ticker (see NewMockTicker).
func WithTicker(t Ticker) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.ticker = t
		return nil
	})
}

// WithLogger records a logger on this specific executor. The warnings the
// executor emits (task, listener and shutdown-hook panics, queue-full
// rejections) are written through the package-level logger from GetLogger,
// not through this one.
func WithLogger(l Logger) Option {
	return optionFunc(func(opts *executorOptions) error {
		opts.logger = l
		return nil
	})
}

// resolveOptions applies Option values over the documented defaults.
func resolveOptions(opts []Option) (*executorOptions, error) {
	cfg := &executorOptions{
		maxPendingTasks:       4096,
		globalQuietPeriod:     time.Second,
		maxListenerStackDepth: 8,
		availableProcessors:   runtime.NumCPU(),
		shutdownTimeout:       15 * time.Second,
		threadFactory:         GoroutineThreadFactory{},
		rejectionPolicy:       RejectImmediately{},
		ticker:                SystemTicker{},
		logger:                GetLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
