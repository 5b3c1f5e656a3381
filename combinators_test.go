package taskcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWhenAllSucceedsWhenEveryInputSucceeds(t *testing.T) {
	a := NewPromise(nil)
	b := NewPromise(nil)
	outcome := WhenAll(nil, a, b)

	a.SetSuccess("a")
	b.SetSuccess("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := outcome.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !outcome.IsSuccess() {
		t.Fatal("expected WhenAll outcome to succeed")
	}
}

func TestWhenAllFailsWithFirstObservedCause(t *testing.T) {
	a := NewPromise(nil)
	b := NewPromise(nil)
	outcome := WhenAll(nil, a, b)

	cause := errors.New("a failed")
	a.SetFailure(cause)
	b.SetSuccess("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := outcome.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got := outcome.Cause(); !errors.Is(got, cause) {
		t.Fatalf("Cause() = %v, want %v", got, cause)
	}
}

func TestWhenAnyCompletesOnFirstInput(t *testing.T) {
	a := NewPromise(nil)
	b := NewPromise(nil)
	outcome := WhenAny(nil, a, b)

	b.SetSuccess("first")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := outcome.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v := outcome.GetNow(); v != "first" {
		t.Fatalf("GetNow() = %v, want %q", v, "first")
	}

	a.SetSuccess("second")
	if v := outcome.GetNow(); v != "first" {
		t.Fatalf("GetNow() changed after first completion: %v", v)
	}
}

func TestAggregatorFinishesImmediatelyWhenAllAlreadyDone(t *testing.T) {
	a := NewPromise(nil)
	a.SetSuccess(nil)

	agg := NewAggregator(1)
	agg.Add(a)
	outcome := NewPromise(nil)
	agg.Finish(outcome)

	if !outcome.IsDone() {
		t.Fatal("expected outcome to be done immediately")
	}
}

func TestAggregatorCrossGoroutineMisusePanics(t *testing.T) {
	agg := NewAggregator(1)
	done := make(chan any, 1)
	go func() {
		defer func() { done <- recover() }()
		agg.Add(NewPromise(nil))
	}()
	if r := <-done; r == nil {
		t.Fatal("expected Add from a different goroutine to panic")
	}
}

func TestNotifierPropagatesSuccess(t *testing.T) {
	source := NewPromise(nil)
	target := NewPromise(nil)
	n := NewNotifier(source, true)
	n.AddTarget(target)

	source.SetSuccess("value")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := target.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v := target.GetNow(); v != "value" {
		t.Fatalf("GetNow() = %v, want %q", v, "value")
	}
}

func TestNotifierCascadesCancellationFromTarget(t *testing.T) {
	source := NewPromise(nil)
	target := NewPromise(nil)
	n := NewNotifier(source, true)
	n.AddTarget(target)

	target.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := source.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !source.IsCancelled() {
		t.Fatal("expected cancelling the target to cascade-cancel the source")
	}
}
