package taskcore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGroup(t *testing.T, n int) *ExecutorGroup {
	t.Helper()
	g, err := NewExecutorGroup(n, func(int) (*Executor, error) {
		return NewExecutor(WithTicker(NewMockTicker()))
	})
	if err != nil {
		t.Fatalf("NewExecutorGroup: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.ShutdownGracefully(0, time.Second).Await(ctx)
	})
	return g
}

func TestExecutorGroupPowerOfTwoChooserCyclesThroughAllChildren(t *testing.T) {
	g := newTestGroup(t, 4)

	seen := make(map[*Executor]bool)
	for i := 0; i < 8; i++ {
		seen[g.Next()] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all 4 children to be chosen over 8 calls, saw %d distinct", len(seen))
	}
}

func TestExecutorGroupModChooserNonPowerOfTwo(t *testing.T) {
	g := newTestGroup(t, 3)

	seen := make(map[*Executor]bool)
	for i := 0; i < 9; i++ {
		seen[g.Next()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 children to be chosen, saw %d distinct", len(seen))
	}
}

func TestExecutorGroupSubmitRunsOnSomeChild(t *testing.T) {
	g := newTestGroup(t, 2)

	ran := make(chan struct{}, 1)
	if res := g.Submit(func() { close(ran) }); res != Accepted {
		t.Fatalf("Submit = %v, want Accepted", res)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task submitted to the group never ran")
	}
}

func TestExecutorGroupShutdownGracefullyTerminatesEveryChild(t *testing.T) {
	g := newTestGroup(t, 3)
	for _, c := range g.Children() {
		c.Submit(func() {})
	}

	term := g.ShutdownGracefully(0, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := term.Await(ctx); err != nil {
		t.Fatalf("awaiting group termination: %v", err)
	}
	if !g.IsShutdown() || !g.IsTerminated() {
		t.Fatal("expected every child to be shut down and terminated")
	}
}

func TestVirtualExecutorRunsTasksInSubmissionOrder(t *testing.T) {
	g := newTestGroup(t, 4)
	ve, err := NewVirtualExecutor(g, 64, 8)
	if err != nil {
		t.Fatalf("NewVirtualExecutor: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		ve.Submit(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("expected %d tasks, got %d", n, len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("virtual executor ordering violated: %v", order)
		}
	}
}

func TestVirtualExecutorQueueFullRejects(t *testing.T) {
	g := newTestGroup(t, 1)
	ve, err := NewVirtualExecutor(g, 1, 1)
	if err != nil {
		t.Fatalf("NewVirtualExecutor: %v", err)
	}

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		if res := ve.Submit(func() { wg.Done() }); res == Accepted {
			accepted.Add(1)
		} else {
			rejected.Add(1)
			wg.Done()
		}
	}
	wg.Wait()

	if accepted.Load() == 0 {
		t.Fatal("expected at least some submissions to be accepted")
	}
}
