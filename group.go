package taskcore

import (
	"sync/atomic"
	"time"
)

// Chooser maps a group's next submit() call to one of its children (spec §4.9).
type Chooser interface {
	Next() *Executor
}

// powerOfTwoChooser is the hot path: children[counter++ & (n-1)].
type powerOfTwoChooser struct {
	children []*Executor
	mask     uint64
	counter  atomic.Uint64
}

func (c *powerOfTwoChooser) Next() *Executor {
	i := c.counter.Add(1) - 1
	return c.children[i&c.mask]
}

// modChooser is the fallback for non-power-of-two sizes:
// children[abs(counter++ % n)].
type modChooser struct {
	children []*Executor
	counter  atomic.Uint64
}

func (c *modChooser) Next() *Executor {
	i := c.counter.Add(1) - 1
	n := uint64(len(c.children))
	return c.children[i%n]
}

func newChooser(children []*Executor) Chooser {
	n := len(children)
	if n&(n-1) == 0 {
		return &powerOfTwoChooser{children: children, mask: uint64(n - 1)}
	}
	return &modChooser{children: children}
}

// ExecutorGroup multiplexes multiple single-threaded executors via a
// pluggable Chooser, handling group-level lifecycle (spec §4.9). It is an
// immutable array of executors plus a chooser; its children are created
// eagerly, and on any failure during construction all successfully-created
// children are shut down gracefully.
type ExecutorGroup struct {
	children   []*Executor
	chooser    Chooser
	terminated *Promise
}

// NewExecutorGroup constructs nThreads children using newChild (which
// receives the child's 0-based index), eagerly. If newChild returns an error
// for any index, every successfully-created child so far is shut down
// gracefully and the error is returned.
func NewExecutorGroup(nThreads int, newChild func(index int) (*Executor, error)) (*ExecutorGroup, error) {
	g := &ExecutorGroup{terminated: NewPromise(nil)}
	for i := 0; i < nThreads; i++ {
		child, err := newChild(i)
		if err != nil {
			for _, c := range g.children {
				c.ShutdownGracefully(0, 0)
			}
			return nil, err
		}
		child.group = g
		g.children = append(g.children, child)
	}
	g.chooser = newChooser(g.children)
	return g, nil
}

// Next returns the next executor per the group's chooser.
func (g *ExecutorGroup) Next() *Executor {
	return g.chooser.Next()
}

// Children returns the group's executors, in construction order. The slice
// must not be mutated.
func (g *ExecutorGroup) Children() []*Executor {
	return g.children
}

// Submit routes fn to the next chosen child.
func (g *ExecutorGroup) Submit(fn func()) SubmitResult {
	return g.Next().Submit(fn)
}

// IsShutdown reports whether every child has entered (or passed) Shutdown.
func (g *ExecutorGroup) IsShutdown() bool {
	for _, c := range g.children {
		if !c.IsShutdown() {
			return false
		}
	}
	return true
}

// IsTerminated reports whether every child has fully terminated.
func (g *ExecutorGroup) IsTerminated() bool {
	for _, c := range g.children {
		if !c.IsTerminated() {
			return false
		}
	}
	return true
}

// ShutdownGracefully fans out a graceful shutdown request to every child and
// returns a combined termination promise that completes once every child's
// termination future completes.
func (g *ExecutorGroup) ShutdownGracefully(quietPeriod, timeout time.Duration) *Promise {
	agg := NewAggregator(len(g.children))
	for _, c := range g.children {
		agg.Add(c.ShutdownGracefully(quietPeriod, timeout))
	}
	agg.Finish(g.terminated)
	return g.terminated
}

// TerminationFuture returns the group's combined termination promise.
func (g *ExecutorGroup) TerminationFuture() *Promise {
	return g.terminated
}

// --- Non-sticky ordered virtual executor (spec §4.9) ---

type virtualExecutorState int32

const (
	virtualNone virtualExecutorState = iota
	virtualSubmitted
	virtualRunning
)

// VirtualExecutor wraps a non-ordered ExecutorGroup and provides an ordered
// virtual executor on top of whichever child is chosen for its first
// submission, by serializing submitted tasks through an internal MPSC queue
// and a single runnable that drains at most maxTasksPerRun per turn,
// re-submitting itself if more remain (spec §4.9).
type VirtualExecutor struct {
	group          *ExecutorGroup
	maxTasksPerRun int
	queue          *MPSCQueue[func()]
	state          atomic.Int32 // virtualExecutorState
	child          atomic.Pointer[Executor]
}

// NewVirtualExecutor constructs a VirtualExecutor over group, draining at
// most maxTasksPerRun queued tasks per turn on its chosen child.
func NewVirtualExecutor(group *ExecutorGroup, queueCapacity, maxTasksPerRun int) (*VirtualExecutor, error) {
	q, err := NewMPSCQueue[func()](nextPowerOfTwo(queueCapacity))
	if err != nil {
		return nil, err
	}
	return &VirtualExecutor{group: group, maxTasksPerRun: maxTasksPerRun, queue: q}, nil
}

// Submit enqueues fn, ensuring exactly one outstanding drain-run is
// submitted to the underlying chosen child at any time (state machine
// {NONE, SUBMITTED, RUNNING}).
func (v *VirtualExecutor) Submit(fn func()) SubmitResult {
	if err := v.queue.TryEnqueue(fn); err != nil {
		return RejectedQueueFull
	}
	if v.state.CompareAndSwap(int32(virtualNone), int32(virtualSubmitted)) {
		child := v.child.Load()
		if child == nil {
			child = v.group.Next()
			v.child.Store(child)
		}
		return child.Submit(v.drain)
	}
	return Accepted
}

func (v *VirtualExecutor) drain() {
	v.state.Store(int32(virtualRunning))
	n := 0
	for n < v.maxTasksPerRun {
		fn, ok := v.queue.TryDequeue()
		if !ok {
			break
		}
		fn()
		n++
	}
	// Mark NONE before checking for remaining work: a concurrent Submit that
	// lands between the check and the store below will observe NONE and win
	// the CAS itself, scheduling its own drain. Doing it the other way
	// around (check-then-store) leaves a window where such a Submit sees
	// state still RUNNING, loses nothing to enqueue, but has no drain
	// scheduled to pick its task up.
	v.state.Store(int32(virtualNone))
	if !v.queue.IsEmpty() && v.state.CompareAndSwap(int32(virtualNone), int32(virtualSubmitted)) {
		v.child.Load().Submit(v.drain)
	}
}
