package taskcore

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// maxIndexedVariables is the hard ceiling on the number of indices that may
// be allocated from NewIndex, documented per spec §9's design note on the
// thread-local slot map: index allocation uses a process-wide atomic counter
// with a hard ceiling and a documented failure mode.
const maxIndexedVariables = 1 << 20

var nextIndexedVariable atomic.Int64

// NewIndex allocates a new, globally unique slot index for use with
// ThreadLocalMap. It panics if the ceiling is exhausted — exhaustion can only
// happen if a caller allocates indices in a hot loop instead of once at
// package/variable init time, which is a programming error.
func NewIndex() int {
	idx := nextIndexedVariable.Add(1) - 1
	if idx >= maxIndexedVariables {
		panic(ErrIllegalState)
	}
	return int(idx)
}

// unset is the sentinel stored in an index-allocated slot that has never been
// set, distinguishing "unset" from a legitimately stored nil.
type unsetType struct{}

var unset = unsetType{}

// threadLocalSlots is the per-thread (per-goroutine) backing array. Owned
// exclusively by the goroutine that created it; no synchronization is used
// for reads/writes to vals itself (spec §5: thread-locals are strictly
// per-thread).
type threadLocalSlots struct {
	vals       []any
	onRemovals map[int]func(any)
}

func newThreadLocalSlots() *threadLocalSlots {
	return &threadLocalSlots{}
}

func (s *threadLocalSlots) get(i int) any {
	if i >= len(s.vals) {
		return unset
	}
	return s.vals[i]
}

func (s *threadLocalSlots) set(i int, v any) {
	if i >= len(s.vals) {
		grown := make([]any, i+1)
		copy(grown, s.vals)
		for j := len(s.vals); j < i; j++ {
			grown[j] = unset
		}
		s.vals = grown
	}
	s.vals[i] = v
}

// ThreadLocalMap is the index-allocated per-thread storage of spec §4.4. Hot
// path lookups go through a fallback keyed side table here (Go has no true
// thread-local storage), keyed by the calling goroutine's id, which is
// obtained the same way the executor determines its own worker identity
// (runtime.Stack-derived goroutine id). A per-goroutine onRemovals map
// records which indices registered a removal hook, so RemoveAll can invoke
// them on thread (goroutine) exit.
type ThreadLocalMap struct {
	table sync.Map // goroutineID -> *threadLocalSlots
}

// NewThreadLocalMap constructs an empty ThreadLocalMap.
func NewThreadLocalMap() *ThreadLocalMap {
	return &ThreadLocalMap{}
}

func (m *ThreadLocalMap) slotsForCurrentGoroutine(create bool) *threadLocalSlots {
	id := getGoroutineID()
	if v, ok := m.table.Load(id); ok {
		return v.(*threadLocalSlots)
	}
	if !create {
		return nil
	}
	s := newThreadLocalSlots()
	actual, _ := m.table.LoadOrStore(id, s)
	return actual.(*threadLocalSlots)
}

// IndexedVariable returns the value at slot i for the calling goroutine, or
// the unset sentinel (comparable via IsUnset) if never written.
func (m *ThreadLocalMap) IndexedVariable(i int) any {
	s := m.slotsForCurrentGoroutine(false)
	if s == nil {
		return unset
	}
	return s.get(i)
}

// IsUnset reports whether v is the sentinel returned for a never-written slot.
func IsUnset(v any) bool {
	_, ok := v.(unsetType)
	return ok
}

// SetIndexedVariable stores v at slot i for the calling goroutine.
func (m *ThreadLocalMap) SetIndexedVariable(i int, v any) {
	m.slotsForCurrentGoroutine(true).set(i, v)
}

// GetAndSetIndexedVariable stores v at slot i, returning the previous value
// (or unset).
func (m *ThreadLocalMap) GetAndSetIndexedVariable(i int, v any) any {
	s := m.slotsForCurrentGoroutine(true)
	old := s.get(i)
	s.set(i, v)
	return old
}

// RemoveIndexedVariable clears slot i for the calling goroutine, running its
// onRemoval hook (if registered via SetOnRemoval) with the prior value.
func (m *ThreadLocalMap) RemoveIndexedVariable(i int) {
	s := m.slotsForCurrentGoroutine(false)
	if s == nil {
		return
	}
	old := s.get(i)
	if IsUnset(old) {
		return
	}
	s.set(i, unset)
	if s.onRemovals != nil {
		if hook, ok := s.onRemovals[i]; ok {
			hook(old)
		}
	}
}

// SetOnRemoval registers hook to be invoked with the slot's value whenever it
// is cleared via RemoveIndexedVariable or RemoveAll, for the calling
// goroutine only.
func (m *ThreadLocalMap) SetOnRemoval(i int, hook func(any)) {
	s := m.slotsForCurrentGoroutine(true)
	if s.onRemovals == nil {
		s.onRemovals = make(map[int]func(any))
	}
	s.onRemovals[i] = hook
}

// RemoveAll clears every slot for the calling goroutine, invoking each
// registered onRemoval hook, and discards the goroutine's side-table entry
// (spec §4.4: "a reserved slot holds the set of thread-locals requiring
// removal-on-thread-exit; removeAll() walks this set").
func (m *ThreadLocalMap) RemoveAll() {
	id := getGoroutineID()
	v, ok := m.table.LoadAndDelete(id)
	if !ok {
		return
	}
	s := v.(*threadLocalSlots)
	for i, val := range s.vals {
		if IsUnset(val) {
			continue
		}
		if hook, ok := s.onRemovals[i]; ok {
			hook(val)
		}
	}
}

// getGoroutineID returns the current goroutine's runtime-assigned id, parsed
// from runtime.Stack. This is the same fallback mechanism a fast thread type
// would use to recognize "my own thread" in languages with real
// thread-locals; here it also backs Executor.InEventLoop.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
