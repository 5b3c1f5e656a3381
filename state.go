package taskcore

import (
	"sync/atomic"
)

// ExecutorState represents the lifecycle state of a single-threaded event executor.
//
// State Machine:
//
//	NotStarted --execute()--> Started --shutdownGracefullyAsync()--> ShuttingDown
//	   ^                         |  ^                                      |
//	   |                     trySuspend()                                  v
//	   |                         v  |                                  Shutdown
//	   +------execute()------ Suspended                                    |
//	                                                                        v
//	                                                                  Terminated
//
// Transitions are monotonic except NotStarted<->Suspended (lazy start, both
// reachable only before any shutdown has been requested) and
// Started<->Suspending<->Suspended (only when suspension is enabled and the
// queues are empty). Shutdown states (ShuttingDown, Shutdown, Terminated) are
// a strict total order once entered: no transition ever moves backwards out
// of them.
type ExecutorState uint32

const (
	// NotStarted means the executor has been constructed but its worker
	// thread has not yet been spawned.
	NotStarted ExecutorState = iota
	// Started means the worker thread is running and draining the task queue.
	Started
	// Suspending means a suspend request has been accepted but the worker
	// has not yet observed empty queues to act on it.
	Suspending
	// Suspended means the worker thread has exited pending the next
	// submission, which restarts it (transition back to Started).
	Suspended
	// ShuttingDown means shutdownGracefullyAsync has been called; submissions
	// are still accepted until Shutdown.
	ShuttingDown
	// Shutdown means no further submissions are accepted; the worker is
	// draining any remaining quiet-period window before terminating.
	Shutdown
	// Terminated is the final state: the worker thread has exited and the
	// termination promise has completed.
	Terminated
)

// String returns a human-readable representation of the state.
func (s ExecutorState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Started:
		return "Started"
	case Suspending:
		return "Suspending"
	case Suspended:
		return "Suspended"
	case ShuttingDown:
		return "ShuttingDown"
	case Shutdown:
		return "Shutdown"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// executorState is a lock-free state cell with cache-line padding, guarding
// against false sharing between the submitting goroutines and the worker.
type executorState struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

// newExecutorState creates a new state cell in the NotStarted state.
func newExecutorState() *executorState {
	s := &executorState{}
	s.v.Store(uint32(NotStarted))
	return s
}

// Load returns the current state atomically.
func (s *executorState) Load() ExecutorState {
	return ExecutorState(s.v.Load())
}

// Store atomically stores a new state, bypassing transition validation. Only
// used for unconditional forced transitions (e.g. entering Terminated).
func (s *executorState) Store(state ExecutorState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *executorState) TryTransition(from, to ExecutorState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts to transition from any of the valid source states to
// the target, returning true on the first one that succeeds.
func (s *executorState) TransitionAny(validFrom []ExecutorState, to ExecutorState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the executor has fully terminated.
func (s *executorState) IsTerminal() bool {
	return s.Load() == Terminated
}

// IsShuttingDown reports whether the executor has entered any shutdown phase.
func (s *executorState) IsShuttingDown() bool {
	switch s.Load() {
	case ShuttingDown, Shutdown, Terminated:
		return true
	default:
		return false
	}
}

// CanAcceptWork reports whether the executor currently accepts new submissions.
// Submissions remain accepted through ShuttingDown, per spec §4.8.
func (s *executorState) CanAcceptWork() bool {
	switch s.Load() {
	case NotStarted, Started, Suspending, Suspended, ShuttingDown:
		return true
	default:
		return false
	}
}
