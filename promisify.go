package taskcore

import (
	"context"
	"errors"
	"time"
)

// ErrGoexit rejects a Promisify-created Promise when its goroutine exited via
// runtime.Goexit() (or an uncaught non-panic early return) instead of
// returning normally or panicking.
var ErrGoexit = errors.New("taskcore: goroutine exited via runtime.Goexit")

// Promisify runs fn in a new goroutine and returns a Promise representing its
// eventual outcome (spec §3's supplemented panic-to-promise-failure
// plumbing). Resolution is routed back through SubmitInternal so the
// promise's terminal-state transition and listener notification happen on e's
// worker goroutine like any other task result, falling back to direct
// resolution if the executor can no longer accept work (e.g. mid-shutdown) so
// the promise always settles.
//
//   - A panic in fn rejects the promise with an *ExecutionFailure wrapping a
//     *PanicError.
//   - runtime.Goexit (detected as "returned without completing and without
//     panicking") rejects the promise with ErrGoexit.
//   - ctx already Done when the goroutine starts rejects the promise with
//     ctx.Err() without calling fn. Once fn is running, ctx is observed only
//     by fn itself: the promise settles with whatever fn returns.
func (e *Executor) Promisify(ctx context.Context, fn func(ctx context.Context) (any, error)) *Promise {
	p := NewPromise(e)

	go func() {
		completed := false

		select {
		case <-ctx.Done():
			completed = true
			e.resolvePromisify(p, func() { p.trySetFailure(ctx.Err()) }, ctx.Err())
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				cause := &ExecutionFailure{Cause: &PanicError{Value: r}}
				e.resolvePromisify(p, func() { p.trySetFailure(cause) }, cause)
			} else if !completed {
				e.resolvePromisify(p, func() { p.trySetFailure(ErrGoexit) }, ErrGoexit)
			}
		}()

		res, err := fn(ctx)
		completed = true
		if err != nil {
			e.resolvePromisify(p, func() { p.trySetFailure(err) }, err)
		} else {
			e.resolvePromisify(p, func() { p.trySetSuccess(res) }, nil)
		}
	}()

	return p
}

// resolvePromisify submits resolve (which mutates p) onto e, falling back to
// running it directly if submission is rejected (e.g. e has already reached
// Shutdown) so p always reaches a terminal state. failureCause is nil for a
// success resolution.
func (e *Executor) resolvePromisify(p *Promise, resolve func(), failureCause error) {
	if err := e.SubmitInternal(resolve); err != nil {
		if failureCause != nil {
			p.trySetFailure(failureCause)
		} else {
			resolve()
		}
	}
}

// PromisifyWithTimeout is a convenience wrapper combining context.WithTimeout
// with Promisify: fn receives a ctx that expires after timeout, and the
// returned Promise settles with whatever fn returns. The Promise does not fail
// on its own when the timeout passes while fn is still running.
func (e *Executor) PromisifyWithTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) *Promise {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return e.Promisify(ctx, func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	})
}

// PromisifyWithDeadline is a convenience wrapper combining
// context.WithDeadline with Promisify.
func (e *Executor) PromisifyWithDeadline(parent context.Context, deadline time.Time, fn func(ctx context.Context) (any, error)) *Promise {
	ctx, cancel := context.WithDeadline(parent, deadline)
	return e.Promisify(ctx, func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	})
}
