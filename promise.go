package taskcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// promiseState enumerates the terminal-state cell of spec §4.5.
type promiseState int32

const (
	promiseUnset promiseState = iota
	promiseUncancellable
	promiseSuccess
	promiseFailure
	promiseCancelled
)

func (s promiseState) isTerminal() bool {
	return s == promiseSuccess || s == promiseFailure || s == promiseCancelled
}

// Promise is a writable future: the observable outcome of a submitted task
// and the coordination unit for composite operations (spec §4.5). Its
// result is one of: unset, uncancellable-marker, success-value, a
// cancellation-marker, or failure-with-cause. Once terminal, no further
// result mutation is permitted.
type Promise struct {
	id       uint64
	executor *Executor // associated executor for in-loop checks & listener dispatch; may be nil

	state atomic.Int32 // promiseState, fast-path acquire-load

	mu        sync.Mutex
	value     any
	cause     error
	listeners []func(*Promise)
	notifying bool
	done      chan struct{}
}

// NewPromise constructs a Promise associated with executor, which governs
// in-loop listener dispatch and the deadlock guard on Await/Sync. executor
// may be nil, in which case listeners always run on the global executor and
// Await/Sync never deadlock-guard.
func NewPromise(executor *Executor) *Promise {
	return &Promise{
		id:       nextPromiseID.Add(1),
		executor: executor,
		done:     make(chan struct{}),
	}
}

var nextPromiseID atomic.Uint64

// Executor returns the promise's associated executor, or nil.
func (p *Promise) Executor() *Executor {
	return p.executor
}

// IsDone reports whether the promise has reached a terminal state.
func (p *Promise) IsDone() bool {
	return promiseState(p.state.Load()).isTerminal()
}

// IsSuccess reports whether the promise completed successfully.
func (p *Promise) IsSuccess() bool {
	return promiseState(p.state.Load()) == promiseSuccess
}

// IsCancelled reports whether the promise was cancelled.
func (p *Promise) IsCancelled() bool {
	return promiseState(p.state.Load()) == promiseCancelled
}

// Cause returns the failure cause, or nil if not failed.
func (p *Promise) Cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if promiseState(p.state.Load()) == promiseFailure {
		return p.cause
	}
	return nil
}

// GetNow returns the success value without blocking, or nil if not
// successfully completed yet.
func (p *Promise) GetNow() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if promiseState(p.state.Load()) == promiseSuccess {
		return p.value
	}
	return nil
}

// SetSuccess transitions the promise to Success(v). Returns ErrAlreadyComplete
// if the promise was already terminal.
func (p *Promise) SetSuccess(v any) error {
	if !p.trySetSuccess(v) {
		return ErrAlreadyComplete
	}
	return nil
}

// SetFailure transitions the promise to Failure(err). Returns
// ErrAlreadyComplete if the promise was already terminal.
func (p *Promise) SetFailure(err error) error {
	if !p.trySetFailure(err) {
		return ErrAlreadyComplete
	}
	return nil
}

// TrySuccess attempts the Success(v) transition, returning whether it
// effected the transition.
func (p *Promise) TrySuccess(v any) bool { return p.trySetSuccess(v) }

// TryFailure attempts the Failure(err) transition, returning whether it
// effected the transition.
func (p *Promise) TryFailure(err error) bool { return p.trySetFailure(err) }

func (p *Promise) trySetSuccess(v any) bool {
	for {
		cur := promiseState(p.state.Load())
		if cur != promiseUnset && cur != promiseUncancellable {
			return false
		}
		if !p.state.CompareAndSwap(int32(cur), int32(promiseSuccess)) {
			continue
		}
		p.mu.Lock()
		p.value = v
		p.mu.Unlock()
		close(p.done)
		p.notifyListeners()
		return true
	}
}

func (p *Promise) trySetFailure(err error) bool {
	for {
		cur := promiseState(p.state.Load())
		if cur != promiseUnset && cur != promiseUncancellable {
			return false
		}
		if !p.state.CompareAndSwap(int32(cur), int32(promiseFailure)) {
			continue
		}
		p.mu.Lock()
		p.cause = err
		p.mu.Unlock()
		close(p.done)
		p.notifyListeners()
		return true
	}
}

func (p *Promise) trySetCancelled() bool {
	if !p.state.CompareAndSwap(int32(promiseUnset), int32(promiseCancelled)) {
		return false
	}
	p.mu.Lock()
	p.cause = ErrCancelled
	p.mu.Unlock()
	close(p.done)
	p.notifyListeners()
	return true
}

// SetUncancellable blocks subsequent cancellation. It succeeds (returns true)
// iff the current state is unset or already Uncancellable; returns false iff
// already Cancelled. Succeeding on an already-terminal success/failure state
// is also reported true, since cancellation could never apply anymore.
func (p *Promise) SetUncancellable() bool {
	return p.trySetUncancellable()
}

func (p *Promise) trySetUncancellable() bool {
	for {
		cur := promiseState(p.state.Load())
		switch cur {
		case promiseUnset:
			if p.state.CompareAndSwap(int32(promiseUnset), int32(promiseUncancellable)) {
				return true
			}
		case promiseUncancellable, promiseSuccess, promiseFailure:
			return true
		case promiseCancelled:
			return false
		}
	}
}

// Cancel succeeds iff the current state is unset, transitioning to Cancelled.
// Cancellation is best-effort: it never interrupts a running task.
func (p *Promise) Cancel() bool {
	return p.trySetCancelled()
}

// Await blocks the calling goroutine until the promise reaches a terminal
// state or ctx is done. Returns ErrDeadlock if called from the promise's own
// executor's worker goroutine (spec §4.5's deadlock guard), and
// ErrInterrupted if ctx is done before completion. Unlike Sync, Await never
// re-raises the failure cause.
func (p *Promise) Await(ctx context.Context) error {
	if p.executor != nil && p.executor.InEventLoop() {
		return ErrDeadlock
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// AwaitUninterruptibly blocks until the promise reaches a terminal state,
// ignoring ctx cancellation while it waits, and applies the same deadlock
// guard as Await. On return, if ctx was already done, it reports
// ErrInterrupted after completion rather than before.
func (p *Promise) AwaitUninterruptibly(ctx context.Context) error {
	if p.executor != nil && p.executor.InEventLoop() {
		return ErrDeadlock
	}
	<-p.done
	select {
	case <-ctx.Done():
		return ErrInterrupted
	default:
		return nil
	}
}

// Sync behaves like Await but re-raises the failure cause (or ErrCancelled)
// once terminal.
func (p *Promise) Sync(ctx context.Context) error {
	if err := p.Await(ctx); err != nil {
		return err
	}
	switch promiseState(p.state.Load()) {
	case promiseFailure:
		return p.Cause()
	case promiseCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// AddListener registers l to be invoked with the promise once it reaches a
// terminal state. If already terminal, l is notified asynchronously on the
// promise's executor (or synchronously, subject to the stack-depth guard, if
// already running inline on it). Listeners are invariably notified exactly
// once, in the order added (ordering invariant #4).
func (p *Promise) AddListener(l func(*Promise)) {
	p.mu.Lock()
	if !promiseState(p.state.Load()).isTerminal() {
		p.listeners = append(p.listeners, l)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.dispatch(l)
}

// notifyListeners implements the snapshot-then-unlock-then-invoke algorithm
// of spec §4.5: hold the lock only to snapshot and clear the listener slice,
// then invoke outside the lock. The notifying flag prevents concurrent
// notifiers (e.g. a listener re-entrantly adding another listener to the
// same already-terminal promise); any listeners added meanwhile are drained
// under the same protocol once the current pass finishes.
func (p *Promise) notifyListeners() {
	p.mu.Lock()
	if p.notifying {
		p.mu.Unlock()
		return
	}
	p.notifying = true
	for {
		pending := p.listeners
		p.listeners = nil
		p.mu.Unlock()

		if len(pending) == 0 {
			p.mu.Lock()
			if len(p.listeners) == 0 {
				p.notifying = false
				p.mu.Unlock()
				return
			}
			continue
		}
		for _, l := range pending {
			p.dispatch(l)
		}
		p.mu.Lock()
	}
}

// dispatch runs l on the promise's executor: inline (subject to the
// stack-depth guard) if already on that executor's worker goroutine,
// otherwise submitted asynchronously. With no associated executor, it falls
// back to the global executor.
func (p *Promise) dispatch(l func(*Promise)) {
	exec := p.executor
	if exec == nil {
		exec = Global()
	}
	if exec.InEventLoop() && exec.listenerDepth < exec.maxListenerStackDepth {
		exec.listenerDepth++
		runListenerSafely(l, p)
		exec.listenerDepth--
		return
	}
	_ = exec.SubmitInternal(func() {
		runListenerSafely(l, p)
	})
}

// runListenerSafely invokes l, logging (but not propagating) any panic, per
// spec §4.5's failure case: listeners that raise exceptions are logged at
// warn; other listeners still run.
func runListenerSafely(l func(*Promise), p *Promise) {
	defer func() {
		if r := recover(); r != nil {
			logWarnThrottled("listener.panic", "promise listener panicked", &PanicError{Value: r})
		}
	}()
	l(p)
}
