// Package taskcore provides a concurrent task-execution core modeled on
// Netty's single-threaded event-executor design: an ordered, single-worker
// [Executor] with FIFO task dispatch, a scheduled-task engine for delayed and
// periodic work, a cancellable [Promise] future/listener primitive, and an
// [ExecutorGroup] layer for fanning work out across a fixed pool of
// executors via a pluggable [Chooser].
//
// # Architecture
//
// An [Executor] owns exactly one worker goroutine while running, started
// lazily by its first [Executor.Submit]. After [Executor.TrySuspend], the
// worker exits once its queues are empty and the next submission starts it
// again. Work
// submitted to it always runs strictly in FIFO order with respect to other
// submitted work, interleaved with due scheduled tasks ordered by deadline.
// [Executor.Schedule], [Executor.ScheduleAtFixedRate], and
// [Executor.ScheduleWithFixedDelay] admit one-shot and periodic work into an
// internal priority heap.
//
// [Promise] is the observable outcome of submitted work: a CAS-guarded
// terminal-state cell (success, failure, or cancellation) with listener
// notification, composable via [Aggregator] (first-failure-wins combination)
// and [Notifier] (cascading completion/cancellation), and via the
// [WhenAll]/[WhenAny] convenience wrappers.
//
// [NewExecutorGroup] constructs a fixed-size pool of executors behind a
// [Chooser] (round-robin or power-of-two masking, depending on pool size),
// routing [ExecutorGroup.Submit] calls to whichever child is next in line.
// [VirtualExecutor] layers an ordered queue on top of a group: a logical
// stream of work runs in FIFO order on the child chosen for its first
// submission, and stays on that child for the VirtualExecutor's lifetime.
//
// [Global] exposes a process-wide singleton [Executor] used as the fallback
// listener-dispatch destination for promises with no associated executor.
// [ImmediateExecutor] runs submitted work synchronously on the calling
// goroutine instead, deferring re-entrant submissions rather than recursing
// without bound.
//
// # Thread Safety
//
// [Executor.Submit], [Executor.Schedule] and its variants, and every
// [Promise] method are safe to call from any goroutine. [Executor.InEventLoop]
// reports whether the calling goroutine is the executor's current worker,
// which governs both the [Promise] deadlock guard on [Promise.Await]/
// [Promise.Sync] and whether listener dispatch runs inline or is queued.
//
// # Error Types
//
// The package favors returning a [SubmitResult] from submission paths over
// raising, per its error-handling design (see [SubmitResult.Err] for the
// exception-compatible wrapper). Terminal [Promise] failures and typed
// errors use:
//   - [Rejected]: a submission rejected due to a full queue or shutdown.
//   - [ExecutionFailure]: wraps a task's returned error for scheduled tasks.
//   - [PanicError]: wraps a recovered panic from a task, listener, shutdown
//     hook, or [Executor.Promisify] goroutine.
//   - [AggregateError]: a container for multiple causes. No combinator in
//     this package returns it; [Aggregator] and [WhenAll] report only the
//     first cause.
//
// All error types implement [error], [errors.Unwrap], and participate in
// [errors.Is]/[errors.As] matching.
package taskcore
