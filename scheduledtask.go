package taskcore

import (
	"sync/atomic"
)

const notInQueue = -1

// cancel-state bits (spec §3 Data Model).
const (
	cancelBitRequested uint32 = 1 << iota
	cancelBitProhibited
)

// scheduledTask is the tuple {id, deadlineNanos, periodNanos, callable,
// promise, cancelState, heapIndex} from spec §3 and §4.6. It is bound to
// exactly one owning executor.
type scheduledTask struct {
	id            uint64
	deadlineNanos int64
	periodNanos   int64 // 0 = one-shot; >0 = fixed-rate; <0 = fixed-delay
	run           func() (any, error)
	promise       *Promise
	cancelState   atomic.Uint32
	heapIndex     int
	owner         *Executor
}

func newScheduledTask(owner *Executor, run func() (any, error), deadlineNanos, periodNanos int64, p *Promise) *scheduledTask {
	t := &scheduledTask{
		run:           run,
		deadlineNanos: deadlineNanos,
		periodNanos:   periodNanos,
		promise:       p,
		heapIndex:     notInQueue,
		owner:         owner,
	}
	return t
}

// delay returns the nanoseconds remaining until the deadline, relative to now.
func (t *scheduledTask) delay(now int64) int64 {
	return t.deadlineNanos - now
}

// isPeriodic reports whether the task recurs.
func (t *scheduledTask) isPeriodic() bool {
	return t.periodNanos != 0
}

// requestCancel sets the RequestedCancel bit unless ProhibitCancel is already
// set, returning whether cancellation is now in effect.
func (t *scheduledTask) requestCancel() bool {
	for {
		old := t.cancelState.Load()
		if old&cancelBitProhibited != 0 {
			return false
		}
		if old&cancelBitRequested != 0 {
			return true
		}
		if t.cancelState.CompareAndSwap(old, old|cancelBitRequested) {
			return true
		}
	}
}

// prohibitCancel sets the ProhibitCancel bit, returning false if a
// cancellation had already been requested (mirroring Promise.setUncancellable).
func (t *scheduledTask) prohibitCancel() bool {
	for {
		old := t.cancelState.Load()
		if old&cancelBitRequested != 0 {
			return false
		}
		if old&cancelBitProhibited != 0 {
			return true
		}
		if t.cancelState.CompareAndSwap(old, old|cancelBitProhibited) {
			return true
		}
	}
}

func (t *scheduledTask) isCancelled() bool {
	return t.cancelState.Load()&cancelBitRequested != 0
}

// cancel performs the CAS on cancel-state bits then delegates heap removal to
// the owning executor (spec §4.6): if called in-loop, removes directly;
// otherwise submits a removal task.
func (t *scheduledTask) cancel() bool {
	if t.isCancelled() || !t.requestCancel() {
		return false
	}
	if !t.promise.trySetCancelled() && !t.promise.IsCancelled() {
		// The promise was made uncancellable or has already completed.
		return false
	}
	e := t.owner
	if e.InEventLoop() {
		e.scheduledQueue.remove(t)
		return true
	}
	_ = e.SubmitInternal(func() {
		e.scheduledQueue.remove(t)
	})
	return true
}

// runOnce executes the execution algorithm of spec §4.6, invoked only by the
// owning worker goroutine.
func (t *scheduledTask) runOnce(now int64) {
	if t.delay(now) > 0 && !t.isCancelled() {
		t.owner.scheduledQueue.push(t)
		return
	}

	if !t.isPeriodic() {
		if !t.promise.trySetUncancellable() {
			// already cancelled concurrently
			return
		}
		result, err := t.runSafely()
		if err != nil {
			t.promise.trySetFailure(err)
		} else {
			t.promise.trySetSuccess(result)
		}
		return
	}

	if t.isCancelled() {
		return
	}
	_, err := t.runSafely()
	if err != nil {
		t.promise.trySetFailure(err)
		return
	}
	if t.owner.state.IsShuttingDown() {
		return
	}
	if t.periodNanos > 0 {
		// Fixed-rate: catch-up burst model, deliberately not collapsed even
		// if the worker fell behind (spec §9 open questions).
		t.deadlineNanos += t.periodNanos
	} else {
		t.deadlineNanos = t.owner.ticker.NanoTime() - t.periodNanos
	}
	t.owner.scheduledQueue.push(t)
}

// ScheduledTask is the externally visible handle returned by Schedule,
// ScheduleAtFixedRate, and ScheduleWithFixedDelay (spec §4.6, §5): it lets a
// caller cancel a scheduled task directly, independent of (and distinct
// from) cancelling its Promise, which only affects the promise cell and
// never removes the task from the owning executor's heap.
type ScheduledTask struct {
	t *scheduledTask
}

// Cancel requests cancellation of the underlying task: it sets the
// RequestedCancel bit, fails the task's promise with ErrCancelled, and
// removes it from the owning executor's scheduled-task heap (running the
// removal in-loop if called from the owning executor's own goroutine,
// otherwise submitting it). Returns false if cancellation was already
// requested, or if the task's promise was made uncancellable or has already
// completed. Safe to call from any goroutine.
func (st *ScheduledTask) Cancel() bool {
	return st.t.cancel()
}

func (t *scheduledTask) runSafely() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionFailure{Cause: &PanicError{Value: r}}
		}
	}()
	result, err = t.run()
	if err != nil {
		err = &ExecutionFailure{Cause: err}
	}
	return result, err
}
