package taskcore

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	globalOnce sync.Once
	globalExec *Executor

	globalWatchdogRunning atomic.Bool
)

// Global returns the process-wide singleton Executor (spec §4.10): a single
// shared executor, lazily started by its first submission, that suspends its
// worker goroutine after an idle quiet period and is transparently restarted
// by the next submission. It is the fallback destination for listener
// dispatch when a Promise has no owning Executor (see Promise.dispatch).
func Global() *Executor {
	globalOnce.Do(func() {
		e, err := NewExecutor(WithGlobalQuietPeriod(time.Second))
		if err != nil {
			// NewExecutor only fails on invalid option-derived queue capacity;
			// the global executor's options are fixed and known-valid.
			panic(err)
		}
		globalExec = e
	})
	startGlobalWatchdogOnce()
	return globalExec
}

// startGlobalWatchdogOnce ensures exactly one background goroutine is
// periodically nudging the global executor toward suspension while idle.
// Unlike a per-executor scheduled task, this watchdog lives outside the
// executor's own queue, so it never itself prevents the idle-suspend check
// in trySuspendIfIdle from observing an empty scheduled queue.
func startGlobalWatchdogOnce() {
	if !globalWatchdogRunning.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer globalWatchdogRunning.Store(false)
		for {
			qp := globalExec.quietPeriod()
			time.Sleep(qp)
			if globalExec.State() != Started {
				return
			}
			idle := globalExec.ticker.NanoTime() - globalExec.lastExecNanos.Load()
			if idle >= qp.Nanoseconds() {
				globalExec.TrySuspend()
			}
		}
	}()
}

// ImmediateExecutor runs submitted work synchronously on the calling
// goroutine (spec §4.10's caller-thread executor), rather than handing it to
// a dedicated worker. Re-entrant submissions (a running task submitting more
// work to the same ImmediateExecutor, from the same goroutine) are deferred
// into a per-goroutine queue and drained after the outermost call returns,
// instead of recursing, so a task that submits to its own ImmediateExecutor
// can never grow the goroutine's stack unboundedly.
type ImmediateExecutor struct {
	depth    *ThreadLocalMap
	depthIdx int
	queueIdx int
}

// NewImmediateExecutor constructs an ImmediateExecutor.
func NewImmediateExecutor() *ImmediateExecutor {
	return &ImmediateExecutor{
		depth:    NewThreadLocalMap(),
		depthIdx: NewIndex(),
		queueIdx: NewIndex(),
	}
}

// Submit runs fn synchronously if this goroutine is not already executing a
// Submit call on ie, otherwise defers it to run after the outermost Submit on
// this goroutine returns. Panics from fn are recovered and logged, never
// propagated to the caller (spec §4.10: "exceptions logged and swallowed").
func (ie *ImmediateExecutor) Submit(fn func()) SubmitResult {
	depthVal := ie.depth.IndexedVariable(ie.depthIdx)
	depth, _ := depthVal.(int)

	if depth > 0 {
		ie.enqueueDeferred(fn)
		return Accepted
	}

	ie.depth.SetIndexedVariable(ie.depthIdx, 1)
	defer ie.depth.SetIndexedVariable(ie.depthIdx, 0)

	ie.runSafely(fn)
	ie.drainDeferred()
	return Accepted
}

func (ie *ImmediateExecutor) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logWarnThrottled("immediate_executor.task_panic", "task panicked", &PanicError{Value: r})
		}
	}()
	fn()
}

func (ie *ImmediateExecutor) enqueueDeferred(fn func()) {
	q, _ := ie.depth.IndexedVariable(ie.queueIdx).([]func())
	q = append(q, fn)
	ie.depth.SetIndexedVariable(ie.queueIdx, q)
}

func (ie *ImmediateExecutor) drainDeferred() {
	for {
		q, _ := ie.depth.IndexedVariable(ie.queueIdx).([]func())
		if len(q) == 0 {
			return
		}
		ie.depth.SetIndexedVariable(ie.queueIdx, q[1:])
		ie.runSafely(q[0])
	}
}
