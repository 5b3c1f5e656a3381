package taskcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPromiseSetSuccessOnce(t *testing.T) {
	p := NewPromise(nil)
	if err := p.SetSuccess(42); err != nil {
		t.Fatalf("first SetSuccess: %v", err)
	}
	if err := p.SetSuccess(43); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("second SetSuccess = %v, want ErrAlreadyComplete", err)
	}
	if !p.IsDone() || !p.IsSuccess() {
		t.Fatal("expected promise to be done and successful")
	}
	if v := p.GetNow(); v != 42 {
		t.Fatalf("GetNow() = %v, want 42", v)
	}
}

func TestPromiseSetFailureOnce(t *testing.T) {
	p := NewPromise(nil)
	cause := errors.New("boom")
	if err := p.SetFailure(cause); err != nil {
		t.Fatalf("SetFailure: %v", err)
	}
	if err := p.SetFailure(errors.New("other")); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("second SetFailure = %v, want ErrAlreadyComplete", err)
	}
	if got := p.Cause(); !errors.Is(got, cause) {
		t.Fatalf("Cause() = %v, want %v", got, cause)
	}
}

func TestPromiseCancelBeforeCompletion(t *testing.T) {
	p := NewPromise(nil)
	if !p.Cancel() {
		t.Fatal("expected Cancel to succeed on unset promise")
	}
	if !p.IsCancelled() {
		t.Fatal("expected promise to be cancelled")
	}
	if p.TrySuccess(1) {
		t.Fatal("expected TrySuccess to fail once cancelled")
	}
}

func TestPromiseSetUncancellableBlocksCancel(t *testing.T) {
	p := NewPromise(nil)
	if !p.SetUncancellable() {
		t.Fatal("expected SetUncancellable to succeed")
	}
	if p.Cancel() {
		t.Fatal("expected Cancel to fail once uncancellable")
	}
	if err := p.SetSuccess("ok"); err != nil {
		t.Fatalf("SetSuccess after SetUncancellable: %v", err)
	}
}

func TestPromiseAwaitBlocksUntilDone(t *testing.T) {
	p := NewPromise(nil)
	done := make(chan error, 1)
	go func() {
		done <- p.Await(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Await returned before the promise completed")
	case <-time.After(20 * time.Millisecond):
	}

	p.SetSuccess(nil)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not return after completion")
	}
}

func TestPromiseAwaitContextCancelled(t *testing.T) {
	p := NewPromise(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Await(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Await() = %v, want ErrInterrupted", err)
	}
}

func TestPromiseSyncReraisesCause(t *testing.T) {
	p := NewPromise(nil)
	cause := errors.New("task failed")
	p.SetFailure(cause)
	if err := p.Sync(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("Sync() = %v, want %v", err, cause)
	}
}

func TestPromiseSyncReraisesCancelled(t *testing.T) {
	p := NewPromise(nil)
	p.Cancel()
	if err := p.Sync(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Sync() = %v, want ErrCancelled", err)
	}
}

func TestPromiseAwaitDeadlockGuard(t *testing.T) {
	e, err := NewExecutor()
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	defer e.ShutdownGracefully(0, time.Second)

	p := NewPromise(e)
	result := make(chan error, 1)
	e.Submit(func() {
		result <- p.Await(context.Background())
	})

	select {
	case err := <-result:
		if !errors.Is(err, ErrDeadlock) {
			t.Fatalf("Await() from own executor = %v, want ErrDeadlock", err)
		}
	case <-time.After(time.Second):
		t.Fatal("deadlock guard did not trigger; worker likely blocked forever")
	}
}

func TestPromiseAddListenerOrderingAndOnce(t *testing.T) {
	p := NewPromise(nil)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		p.AddListener(func(*Promise) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	p.SetSuccess(nil)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected exactly 3 listener invocations, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("listener ordering violated: got %v", order)
		}
	}
}

func TestPromiseAddListenerAfterTerminalRunsAsync(t *testing.T) {
	p := NewPromise(nil)
	p.SetSuccess("done")

	called := make(chan *Promise, 1)
	p.AddListener(func(p *Promise) { called <- p })

	select {
	case got := <-called:
		if got != p {
			t.Fatal("listener received unexpected promise")
		}
	case <-time.After(time.Second):
		t.Fatal("listener added after terminal state was never invoked")
	}
}

func TestPromiseListenerPanicDoesNotBlockOthers(t *testing.T) {
	p := NewPromise(nil)
	secondRan := make(chan struct{}, 1)
	p.AddListener(func(*Promise) { panic("listener blew up") })
	p.AddListener(func(*Promise) { close(secondRan) })
	p.SetSuccess(nil)

	select {
	case <-secondRan:
	case <-time.After(time.Second):
		t.Fatal("second listener never ran after first listener panicked")
	}
}
