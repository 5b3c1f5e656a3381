package taskcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// task is a queued unit of work. wakeup marks the distinguished WAKEUP
// sentinel of spec §3, whose only effect is to unblock a worker parked on a
// timed wait; it is discarded on dequeue.
type task struct {
	run    func()
	wakeup bool
}

var nextExecutorID atomic.Uint64

// Executor is the single-threaded ordered event executor of spec §4.8,
// combined with the scheduled-task engine mixin of spec §4.7. It owns
// exactly one worker goroutine while running, drains its task queue in FIFO
// order, and admits scheduled (delayed/periodic) tasks through an internal
// priority heap.
type Executor struct {
	id     uint64
	opts   *executorOptions
	ticker Ticker
	logger Logger

	state *executorState

	queue          *MPSCQueue[task]
	scheduledQueue *scheduledQueue
	nextTaskID     atomic.Uint64

	wakeupCh chan struct{}
	doneCh   chan struct{} // closed once the worker goroutine has exited

	threadID atomic.Uint64 // goroutine id of the current worker incarnation; 0 = not running

	maxListenerStackDepth int
	listenerDepth         int // only ever touched by the worker goroutine itself

	lastExecNanos       atomic.Int64
	shutdownRequestedAt atomic.Int64
	// quietPeriodNanos/shutdownTimeoutNanos are set by ShutdownGracefully
	// (caller goroutine) and read by confirmShutdown (worker goroutine), so
	// they're atomics rather than plain time.Duration fields.
	quietPeriodNanos     atomic.Int64
	shutdownTimeoutNanos atomic.Int64

	shutdownHooksMu sync.Mutex
	shutdownHooks   []func()

	terminationPromise *Promise

	// group is a plain (non-owning) reference to the ExecutorGroup this
	// executor belongs to, if any (spec §9's cyclic-reference resolution).
	group *ExecutorGroup
}

// NewExecutor constructs an Executor in the NotStarted state. The worker
// goroutine is spawned lazily by the first submission.
func NewExecutor(opts ...Option) (*Executor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	q, err := NewMPSCQueue[task](nextPowerOfTwo(cfg.maxPendingTasks))
	if err != nil {
		return nil, err
	}
	e := &Executor{
		id:                    nextExecutorID.Add(1),
		opts:                  cfg,
		ticker:                cfg.ticker,
		logger:                cfg.logger,
		state:                 newExecutorState(),
		queue:                 q,
		scheduledQueue:        newScheduledQueue(),
		wakeupCh:              make(chan struct{}, 1),
		doneCh:                make(chan struct{}),
		maxListenerStackDepth: cfg.maxListenerStackDepth,
	}
	e.quietPeriodNanos.Store(cfg.globalQuietPeriod.Nanoseconds())
	e.shutdownTimeoutNanos.Store(cfg.shutdownTimeout.Nanoseconds())
	e.terminationPromise = NewPromise(nil)
	return e, nil
}

// quietPeriod returns the currently configured shutdown quiet period.
func (e *Executor) quietPeriod() time.Duration {
	return time.Duration(e.quietPeriodNanos.Load())
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ID returns a process-unique identifier, useful for log correlation.
func (e *Executor) ID() uint64 { return e.id }

// State returns the executor's current lifecycle state.
func (e *Executor) State() ExecutorState { return e.state.Load() }

// InEventLoop reports whether the calling goroutine is this executor's
// current worker goroutine.
func (e *Executor) InEventLoop() bool {
	id := e.threadID.Load()
	return id != 0 && id == getGoroutineID()
}

// Submit enqueues fn for execution on the worker goroutine, starting it if
// necessary. It implements spec §4.8's submission algorithm, returning a rich
// SubmitResult instead of raising, per §9's design note.
func (e *Executor) Submit(fn func()) SubmitResult {
	return e.submit(task{run: fn}, true)
}

// SubmitInternal is a convenience used by the executor's own internals
// (listener dispatch, scheduled-task re-entry, promise resolution) that
// converts a SubmitResult into an error for callers that want exception-like
// ergonomics.
func (e *Executor) SubmitInternal(fn func()) error {
	return e.Submit(fn).Err()
}

// MustExecute panics if Submit does not return Accepted.
func (e *Executor) MustExecute(fn func()) {
	if err := e.Submit(fn).Err(); err != nil {
		panic(err)
	}
}

func (e *Executor) submit(t task, immediate bool) SubmitResult {
	if !e.state.CanAcceptWork() {
		return RejectedShutdown
	}

	result := e.opts.rejectionPolicy.Reject(func() error {
		return e.queue.TryEnqueue(t)
	})
	if result != Accepted {
		return result
	}

	e.startThread()

	// If the executor became Shutdown between enqueue and start, there is no
	// worker left to drain it; report rejection. (Best-effort: the enqueued
	// task is simply never observed.)
	if e.state.Load() == Shutdown || e.state.Load() == Terminated {
		return RejectedShutdown
	}

	if immediate {
		e.wakeup()
	}
	return Accepted
}

// wakeup enqueues the WAKEUP sentinel signal (a non-blocking channel send;
// redundant wakeups are coalesced since the channel has capacity 1).
func (e *Executor) wakeup() {
	select {
	case e.wakeupCh <- struct{}{}:
	default:
	}
}

// startThread idempotently transitions NotStarted/Suspended -> Started and
// spawns the worker goroutine via the configured ThreadFactory.
func (e *Executor) startThread() {
	if e.state.TransitionAny([]ExecutorState{NotStarted, Suspended}, Started) {
		e.doneCh = make(chan struct{})
		e.opts.threadFactory.Go("taskcore-executor", e.run)
	}
}

// run is the worker-thread body of spec §4.8.
func (e *Executor) run() {
	e.threadID.Store(getGoroutineID())
	defer func() {
		e.threadID.Store(0)
		close(e.doneCh)
	}()
	e.lastExecNanos.Store(e.ticker.NanoTime())

	for {
		t, ok := e.takeTask()
		if ok {
			if !t.wakeup {
				e.runTask(t)
				e.lastExecNanos.Store(e.ticker.NanoTime())
			}
		}
		if e.confirmShutdown() {
			return
		}
		if e.trySuspendIfIdle() {
			return
		}
	}
}

// takeTask implements spec §4.8: peek the scheduled heap; if a scheduled
// task is not yet due, block on the task queue with that delay as a timeout,
// merging newly-expired scheduled tasks before re-polling.
func (e *Executor) takeTask() (task, bool) {
	for {
		now := e.ticker.NanoTime()
		if st := e.scheduledQueue.pollDue(now); st != nil {
			return task{run: func() { st.runOnce(e.ticker.NanoTime()) }}, true
		}
		if t, ok := e.queue.TryDequeue(); ok {
			return t, true
		}
		if !e.state.CanAcceptWork() && e.queue.IsEmpty() && e.scheduledQueue.len() == 0 {
			return task{}, false
		}

		d, hasDeadline := e.waitDuration(now)
		if hasDeadline {
			// Sleep consumes a pending wakeup the same way the old direct
			// channel-select did: it returns early the instant wakeupCh is
			// readable. Routing the wait through the ticker (rather than a
			// bare time.Timer) is what lets a MockTicker's Advance actually
			// unblock a parked worker in tests.
			e.ticker.Sleep(d, e.wakeupCh)
		} else {
			<-e.wakeupCh
		}
		// Outside Started (shutting down or suspending), hand control back to
		// run so confirmShutdown and trySuspendIfIdle are re-evaluated.
		if e.state.Load() != Started {
			return task{}, false
		}
	}
}

// waitDuration computes how long takeTask may block before it must re-poll:
// the nearer of the next scheduled-task deadline and, while shutting down, a
// bounded poll interval so confirmShutdown's quiet-period check is
// re-evaluated even with no scheduled work pending.
func (e *Executor) waitDuration(now int64) (time.Duration, bool) {
	var d time.Duration
	has := false
	if peek := e.scheduledQueue.peek(); peek != nil {
		dd := time.Duration(peek.deadlineNanos - now)
		if dd < 0 {
			dd = 0
		}
		d, has = dd, true
	}
	if e.state.IsShuttingDown() {
		const shutdownPollInterval = 20 * time.Millisecond
		if !has || shutdownPollInterval < d {
			d, has = shutdownPollInterval, true
		}
	}
	return d, has
}

// runTask executes t.run, converting any panic into a logged error rather
// than crashing the worker goroutine (spec §7: "the worker loop never
// terminates due to a user exception").
func (e *Executor) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			logWarnThrottled("executor.task_panic", "task panicked", &PanicError{Value: r})
		}
	}()
	t.run()
}

// confirmShutdown implements the quiet-period shutdown algorithm of spec
// §4.8. It returns true once the worker should exit.
func (e *Executor) confirmShutdown() bool {
	state := e.state.Load()
	if state != ShuttingDown && state != Shutdown {
		return false
	}

	e.runShutdownHooks()

	requestedAt := e.shutdownRequestedAt.Load()
	now := e.ticker.NanoTime()
	shutdownTimeoutNanos := e.shutdownTimeoutNanos.Load()
	if shutdownTimeoutNanos >= 0 && now-requestedAt >= shutdownTimeoutNanos {
		e.terminate()
		return true
	}

	lastExec := e.lastExecNanos.Load()
	if e.queue.IsEmpty() && e.scheduledQueue.len() == 0 && now-lastExec >= e.quietPeriodNanos.Load() {
		e.state.TransitionAny([]ExecutorState{ShuttingDown}, Shutdown)
		e.terminate()
		return true
	}

	return false
}

func (e *Executor) runShutdownHooks() {
	for {
		e.shutdownHooksMu.Lock()
		if len(e.shutdownHooks) == 0 {
			e.shutdownHooksMu.Unlock()
			return
		}
		hook := e.shutdownHooks[0]
		e.shutdownHooks = e.shutdownHooks[1:]
		e.shutdownHooksMu.Unlock()
		func() {
			defer func() {
				if r := recover(); r != nil {
					logWarnThrottled("executor.shutdown_hook_panic", "shutdown hook panicked", &PanicError{Value: r})
				}
			}()
			hook()
		}()
	}
}

func (e *Executor) terminate() {
	e.state.Store(Terminated)
	e.terminationPromise.trySetSuccess(nil)
}

// trySuspendIfIdle implements the optional suspension path of spec §4.8:
// canSuspend(state) == Suspending && !hasTasks && nextScheduledTaskDeadline == -1.
func (e *Executor) trySuspendIfIdle() bool {
	if e.state.Load() != Suspending {
		return false
	}
	if !e.queue.IsEmpty() || e.scheduledQueue.len() != 0 {
		return false
	}
	return e.state.TryTransition(Suspending, Suspended)
}

// TrySuspend requests the worker suspend once its queues drain. Only
// meaningful while Started.
func (e *Executor) TrySuspend() bool {
	if !e.state.TryTransition(Started, Suspending) {
		return false
	}
	e.wakeup()
	return true
}

// AddShutdownHook registers fn to run (in FIFO order, re-entrantly — hooks
// may add more hooks) during the shutdown quiet-period loop.
func (e *Executor) AddShutdownHook(fn func()) {
	e.shutdownHooksMu.Lock()
	e.shutdownHooks = append(e.shutdownHooks, fn)
	e.shutdownHooksMu.Unlock()
}

// ShutdownGracefully requests a graceful shutdown with the given quiet
// period and unconditional timeout, returning the termination promise (spec
// §4.8, §8 S5). Submissions are still accepted until the executor reaches
// Shutdown.
func (e *Executor) ShutdownGracefully(quietPeriod, timeout time.Duration) *Promise {
	e.quietPeriodNanos.Store(quietPeriod.Nanoseconds())
	e.shutdownTimeoutNanos.Store(timeout.Nanoseconds())
	e.shutdownRequestedAt.Store(e.ticker.NanoTime())

	if e.state.TransitionAny([]ExecutorState{NotStarted, Suspended}, Shutdown) {
		e.runShutdownHooks()
		e.terminate()
		return e.terminationPromise
	}
	e.state.TransitionAny([]ExecutorState{Started, Suspending}, ShuttingDown)
	e.wakeup()
	return e.terminationPromise
}

// TerminationFuture returns the promise that completes once this executor
// has fully terminated.
func (e *Executor) TerminationFuture() *Promise {
	return e.terminationPromise
}

// IsShutdown reports whether the executor has entered (or passed) Shutdown.
func (e *Executor) IsShutdown() bool {
	switch e.state.Load() {
	case Shutdown, Terminated:
		return true
	default:
		return false
	}
}

// IsTerminated reports whether the executor has fully terminated.
func (e *Executor) IsTerminated() bool {
	return e.state.IsTerminal()
}

// AwaitTermination blocks until the executor terminates or ctx is done. Any
// deadline comes from ctx; the executor's Ticker is not consulted.
func (e *Executor) AwaitTermination(ctx context.Context) error {
	return e.terminationPromise.Await(ctx)
}

// --- Scheduled engine (spec §4.7) ---

// Schedule submits a one-shot task to run after delay, returning its promise.
// A negative delay is normalised to zero (spec §4.7 delay validation).
func (e *Executor) Schedule(delay time.Duration, fn func() (any, error)) (*Promise, *ScheduledTask) {
	return e.scheduleTask(delay, 0, fn)
}

// ScheduleAtFixedRate submits a periodic task whose successive deadlines are
// previous_deadline + period, regardless of how long each run took (spec
// §4.6, §9: catch-up bursts are intentional and preserved). period must be
// positive.
func (e *Executor) ScheduleAtFixedRate(initialDelay, period time.Duration, fn func() (any, error)) (*Promise, *ScheduledTask) {
	if period <= 0 {
		panic(ErrIllegalState)
	}
	return e.scheduleTask(initialDelay, period, fn)
}

// ScheduleWithFixedDelay submits a periodic task whose next deadline is
// computed as completion-time + period (period stored internally as
// negative, so "now - period" yields "now + |period|", per spec §4.6).
// period must be positive.
func (e *Executor) ScheduleWithFixedDelay(initialDelay, period time.Duration, fn func() (any, error)) (*Promise, *ScheduledTask) {
	if period <= 0 {
		panic(ErrIllegalState)
	}
	return e.scheduleTask(initialDelay, -period, fn)
}

func (e *Executor) scheduleTask(delay, periodNanos time.Duration, fn func() (any, error)) (*Promise, *ScheduledTask) {
	if delay < 0 {
		delay = 0
	}
	p := NewPromise(e)
	deadline := e.ticker.NanoTime() + delay.Nanoseconds()
	st := newScheduledTask(e, fn, deadline, periodNanos.Nanoseconds(), p)

	submit := func() {
		st.id = e.nextTaskID.Add(1)
		if e.InEventLoop() {
			e.scheduledQueue.push(st)
			return
		}
		e.SubmitInternal(func() {
			e.scheduledQueue.push(st)
		})
	}

	if e.InEventLoop() {
		submit()
	} else if e.beforeScheduledTaskSubmitted(deadline) {
		e.SubmitInternal(submit)
	} else {
		submit()
		if e.afterScheduledTaskSubmitted(deadline) {
			e.wakeup()
		}
	}
	return p, &ScheduledTask{t: st}
}

// beforeScheduledTaskSubmitted/afterScheduledTaskSubmitted implement the
// two-phase hook protocol of spec §4.7. This executor has no external I/O
// selector to wake selectively, so both hooks simply request an immediate
// wakeup; the protocol is retained as named extension points for a future
// executor variant that does block on a selector.
func (e *Executor) beforeScheduledTaskSubmitted(int64) bool { return true }
func (e *Executor) afterScheduledTaskSubmitted(int64) bool  { return true }

// PollScheduledTask returns the head of the scheduled-task heap if its
// deadline is <= now, otherwise nil. Intended for use from the worker
// goroutine or tests driving a MockTicker directly.
func (e *Executor) PollScheduledTask(now int64) *ScheduledTask {
	if t := e.scheduledQueue.pollDue(now); t != nil {
		return &ScheduledTask{t: t}
	}
	return nil
}

// NextScheduledTaskDeadlineNanos returns the deadline of the nearest
// scheduled task, or -1 if none is queued.
func (e *Executor) NextScheduledTaskDeadlineNanos() int64 {
	if t := e.scheduledQueue.peek(); t != nil {
		return t.deadlineNanos
	}
	return -1
}

// CancelScheduledTasks marks every currently-queued scheduled task as
// cancelled and clears the heap. Callable only from the worker goroutine.
func (e *Executor) CancelScheduledTasks() {
	if !e.InEventLoop() {
		panic(ErrIllegalState)
	}
	for _, t := range e.scheduledQueue.toSlice() {
		t.cancelState.Store(cancelBitRequested)
		t.promise.trySetCancelled()
	}
	e.scheduledQueue.clear()
}
