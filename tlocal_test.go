package taskcore

import (
	"sync"
	"testing"
)

func TestThreadLocalMapPerGoroutineIsolation(t *testing.T) {
	m := NewThreadLocalMap()
	idx := NewIndex()

	m.SetIndexedVariable(idx, "main")

	otherSaw := make(chan any, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		otherSaw <- m.IndexedVariable(idx)
	}()
	wg.Wait()

	if v := <-otherSaw; !IsUnset(v) {
		t.Fatalf("expected slot unset on a different goroutine, got %v", v)
	}
	if v := m.IndexedVariable(idx); v != "main" {
		t.Fatalf("expected slot to still read %q on this goroutine, got %v", "main", v)
	}
}

func TestThreadLocalMapGetAndSet(t *testing.T) {
	m := NewThreadLocalMap()
	idx := NewIndex()

	old := m.GetAndSetIndexedVariable(idx, 1)
	if !IsUnset(old) {
		t.Fatalf("expected first GetAndSet to return unset, got %v", old)
	}
	old = m.GetAndSetIndexedVariable(idx, 2)
	if old != 1 {
		t.Fatalf("expected second GetAndSet to return 1, got %v", old)
	}
	if v := m.IndexedVariable(idx); v != 2 {
		t.Fatalf("expected current value 2, got %v", v)
	}
}

func TestThreadLocalMapRemoveRunsOnRemovalHook(t *testing.T) {
	m := NewThreadLocalMap()
	idx := NewIndex()
	m.SetIndexedVariable(idx, "value")

	var removed any
	m.SetOnRemoval(idx, func(v any) { removed = v })

	m.RemoveIndexedVariable(idx)
	if removed != "value" {
		t.Fatalf("onRemoval hook saw %v, want %q", removed, "value")
	}
	if v := m.IndexedVariable(idx); !IsUnset(v) {
		t.Fatalf("expected slot to be unset after removal, got %v", v)
	}
}

func TestThreadLocalMapRemoveAll(t *testing.T) {
	m := NewThreadLocalMap()
	idx1 := NewIndex()
	idx2 := NewIndex()
	m.SetIndexedVariable(idx1, "a")
	m.SetIndexedVariable(idx2, "b")

	var removedCount int
	m.SetOnRemoval(idx1, func(any) { removedCount++ })
	m.SetOnRemoval(idx2, func(any) { removedCount++ })

	m.RemoveAll()

	if removedCount != 2 {
		t.Fatalf("expected both onRemoval hooks to run, got %d", removedCount)
	}
	if v := m.IndexedVariable(idx1); !IsUnset(v) {
		t.Fatalf("expected idx1 unset after RemoveAll, got %v", v)
	}
}
