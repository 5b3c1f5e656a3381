package taskcore

import "sync/atomic"

// Aggregator (also called Combiner in spec §4.11) completes one outcome
// promise once every future added to it has completed. If any input fails,
// the outcome fails with the first observed cause. It must be used from a
// single goroutine (conventionally, a single executor's worker goroutine);
// cross-goroutine use panics with ErrIllegalState, matching spec §7's
// "Raised synchronously" propagation for IllegalState.
type Aggregator struct {
	ownerGoroutine uint64
	expected       int32
	added          atomic.Int32
	remaining      atomic.Int32
	finished       atomic.Bool
	firstCauseMu   chan struct{} // 1-buffered mutex avoiding import of sync for a single field
	firstCause     error
	outcome        atomic.Pointer[Promise]
}

// NewAggregator constructs an Aggregator expecting exactly expected futures
// to be Add-ed before Finish is called.
func NewAggregator(expected int) *Aggregator {
	a := &Aggregator{
		ownerGoroutine: getGoroutineID(),
		expected:       int32(expected),
		firstCauseMu:   make(chan struct{}, 1),
	}
	a.remaining.Store(int32(expected))
	a.firstCauseMu <- struct{}{}
	return a
}

func (a *Aggregator) checkOwner() {
	if getGoroutineID() != a.ownerGoroutine {
		panic(ErrIllegalState)
	}
}

// Add registers p as one of the futures this aggregator waits on.
func (a *Aggregator) Add(p *Promise) {
	a.checkOwner()
	if a.added.Add(1) > a.expected {
		panic(ErrIllegalState)
	}
	if p.IsDone() {
		a.onComplete(p)
		return
	}
	p.AddListener(a.onComplete)
}

func (a *Aggregator) onComplete(p *Promise) {
	if !p.IsSuccess() {
		cause := p.Cause()
		if cause == nil {
			cause = ErrCancelled
		}
		<-a.firstCauseMu
		if a.firstCause == nil {
			a.firstCause = cause
		}
		a.firstCauseMu <- struct{}{}
	}
	if a.remaining.Add(-1) == 0 {
		a.complete()
	}
}

func (a *Aggregator) complete() {
	outcome := a.outcome.Load()
	if outcome == nil {
		return
	}
	<-a.firstCauseMu
	cause := a.firstCause
	a.firstCauseMu <- struct{}{}
	if cause != nil {
		outcome.trySetFailure(cause)
	} else {
		outcome.trySetSuccess(nil)
	}
}

// Finish declares that every expected future has been Add-ed and binds
// outcome as the combined result promise. If every input already completed,
// outcome is completed immediately.
func (a *Aggregator) Finish(outcome *Promise) {
	a.checkOwner()
	if !a.finished.CompareAndSwap(false, true) {
		panic(ErrIllegalState)
	}
	a.outcome.Store(outcome)
	if a.remaining.Load() <= 0 {
		a.complete()
	}
}

// Notifier propagates a source future's outcome onto one or more target
// promises (spec §4.11). With cascade enabled, cancellation is linked
// bidirectionally: cancelling a target cancels the source, and cancelling
// the source cancels every target.
type Notifier struct {
	source  *Promise
	cascade bool
}

// NewNotifier constructs a Notifier over source. If cascade is true,
// cancellation propagates in both directions between source and every
// registered target.
func NewNotifier(source *Promise, cascade bool) *Notifier {
	return &Notifier{source: source, cascade: cascade}
}

// AddTarget registers target to receive source's eventual outcome.
func (n *Notifier) AddTarget(target *Promise) {
	n.source.AddListener(func(p *Promise) {
		propagate(p, target)
	})
	if n.cascade {
		target.AddListener(func(p *Promise) {
			if p.IsCancelled() {
				n.source.Cancel()
			}
		})
	}
}

func propagate(source, target *Promise) {
	switch {
	case source.IsSuccess():
		target.trySetSuccess(source.GetNow())
	case source.IsCancelled():
		target.trySetCancelled()
	default:
		target.trySetFailure(source.Cause())
	}
}

// WhenAll returns a promise that completes once every input promise
// completes, failing with the first observed cause if any input failed. It
// is a thin convenience wrapper over Aggregator, callable from any
// goroutine (it owns a private Aggregator, created and driven entirely
// within this function's goroutine before any listener fires
// asynchronously).
func WhenAll(executor *Executor, inputs ...*Promise) *Promise {
	outcome := NewPromise(executor)
	agg := NewAggregator(len(inputs))
	for _, p := range inputs {
		agg.Add(p)
	}
	agg.Finish(outcome)
	return outcome
}

// WhenAny returns a promise that completes with the first input to
// complete (success, failure, or cancellation passed through verbatim).
func WhenAny(executor *Executor, inputs ...*Promise) *Promise {
	outcome := NewPromise(executor)
	for _, p := range inputs {
		p.AddListener(func(p *Promise) {
			propagate(p, outcome)
		})
	}
	return outcome
}
