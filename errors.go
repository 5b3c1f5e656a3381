package taskcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in which no additional context beyond the
// kind itself is needed. Use errors.Is to match these through wrapping.
var (
	// ErrCancelled is stored on a promise that reached the Cancelled terminal
	// state; sync/get re-raise it.
	ErrCancelled = errors.New("taskcore: promise cancelled")

	// ErrDeadlock is raised synchronously when sync/await is called from the
	// promise's own executor thread.
	ErrDeadlock = errors.New("taskcore: await/sync called from the promise's own executor thread")

	// ErrTimedOut is the timed-out error kind. No function in this package
	// returns it: Await and Sync report a done ctx, including an expired
	// deadline, as ErrInterrupted.
	ErrTimedOut = errors.New("taskcore: blocking call exceeded its deadline")

	// ErrInterrupted is raised when a blocking call is interrupted by caller
	// cancellation (e.g. the supplied context is done).
	ErrInterrupted = errors.New("taskcore: blocking call interrupted")

	// ErrAlreadyComplete is raised by setSuccess/setFailure when called on an
	// already-terminal promise.
	ErrAlreadyComplete = errors.New("taskcore: promise already complete")

	// ErrIllegalState is raised for misused APIs: group mutation on a frozen
	// group, a combiner used after finish, a combiner used from the wrong
	// thread, and similar invariant violations.
	ErrIllegalState = errors.New("taskcore: illegal state")
)

// Rejected is returned/raised when a submission is refused because the target
// executor's queue is full or the executor has reached the Shutdown state.
type Rejected struct {
	// ShuttingDown is true when the executor had already reached Shutdown (or
	// later); false when the rejection was due to a full queue.
	ShuttingDown bool
	// Cause is the underlying reason, if any (e.g. a queue-full sentinel).
	Cause error
}

// Error implements the error interface.
func (e *Rejected) Error() string {
	if e.ShuttingDown {
		return "taskcore: submission rejected: executor is shut down"
	}
	if e.Cause != nil {
		return fmt.Sprintf("taskcore: submission rejected: %v", e.Cause)
	}
	return "taskcore: submission rejected: queue full"
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Rejected) Unwrap() error {
	return e.Cause
}

// ErrQueueFull is the Cause of a *Rejected returned for a full task queue.
var ErrQueueFull = errors.New("taskcore: task queue full")

// ExecutionFailure wraps the error or recovered panic value a submitted task
// raised. It is the error stored on a promise's failure slot.
type ExecutionFailure struct {
	// Cause is the task's returned error, or a *PanicError if the task panicked.
	Cause error
}

// Error implements the error interface.
func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("taskcore: task execution failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *ExecutionFailure) Unwrap() error {
	return e.Cause
}

// PanicError wraps a panic value recovered from a task run by an executor
// worker loop or a Promisify-style goroutine.
type PanicError struct {
	// Value is the recovered panic value (may be any type, including error).
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("taskcore: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error, so
// errors.Is/errors.As can see through a recovered error panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError holds several causes in one error. None of this package's
// combinators return it; Aggregator and WhenAll report only the first cause.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	return fmt.Sprintf("taskcore: %d errors occurred, first: %v", len(e.Errors), e.firstOrNil())
}

func (e *AggregateError) firstOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0]
}

// Unwrap returns the errors slice for multi-error unwrapping.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is an *AggregateError (regardless of contents).
// Matching against the wrapped causes is done by errors.Is itself, through
// Unwrap.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// WrapError wraps an error with a message, preserving it in the errors.Is/As
// chain via %w.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
