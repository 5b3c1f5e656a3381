package taskcore

import (
	"errors"
	"sync"
	"testing"
)

func TestMPSCQueueCapacityMustBePowerOfTwo(t *testing.T) {
	if _, err := NewMPSCQueue[int](3); !errors.Is(err, ErrQueueCapacity) {
		t.Fatalf("NewMPSCQueue(3) = %v, want ErrQueueCapacity", err)
	}
	if _, err := NewMPSCQueue[int](0); !errors.Is(err, ErrQueueCapacity) {
		t.Fatalf("NewMPSCQueue(0) = %v, want ErrQueueCapacity", err)
	}
	if _, err := NewMPSCQueue[int](8); err != nil {
		t.Fatalf("NewMPSCQueue(8) = %v, want nil", err)
	}
}

func TestMPSCQueueFIFOSingleProducer(t *testing.T) {
	q, err := NewMPSCQueue[int](8)
	if err != nil {
		t.Fatalf("NewMPSCQueue: %v", err)
	}
	for i := 0; i < 8; i++ {
		if err := q.TryEnqueue(i); err != nil {
			t.Fatalf("TryEnqueue(%d): %v", i, err)
		}
	}
	if err := q.TryEnqueue(99); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("TryEnqueue at capacity = %v, want ErrQueueFull", err)
	}
	for i := 0; i < 8; i++ {
		v, ok := q.TryDequeue()
		if !ok || v != i {
			t.Fatalf("TryDequeue() = (%v, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected TryDequeue on empty queue to fail")
	}
}

func TestMPSCQueueMultiProducerSingleConsumerPreservesAllElements(t *testing.T) {
	const producers = 8
	const perProducer = 200
	q, err := NewMPSCQueue[int](1024)
	if err != nil {
		t.Fatalf("NewMPSCQueue: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				for q.TryEnqueue(v) != nil {
					// queue momentarily full; retry
				}
			}
		}()
	}

	seen := make(map[int]bool)
	var mu sync.Mutex
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		total := producers * perProducer
		for len(seen) < total {
			if v, ok := q.TryDequeue(); ok {
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}
	}()

	wg.Wait()
	<-drained

	if len(seen) != producers*perProducer {
		t.Fatalf("got %d distinct elements, want %d", len(seen), producers*perProducer)
	}
}

func TestMPSCQueueDrainToAndFill(t *testing.T) {
	q, err := NewMPSCQueue[int](8)
	if err != nil {
		t.Fatalf("NewMPSCQueue: %v", err)
	}
	next := 0
	n := q.Fill(func() (int, bool) {
		if next >= 5 {
			return 0, false
		}
		v := next
		next++
		return v, true
	}, 0)
	if n != 5 {
		t.Fatalf("Fill returned %d, want 5", n)
	}
	if q.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", q.Size())
	}

	var drained []int
	n = q.DrainTo(func(v int) { drained = append(drained, v) }, 0)
	if n != 5 || len(drained) != 5 {
		t.Fatalf("DrainTo drained %d items: %v", n, drained)
	}
	if !q.IsEmpty() {
		t.Fatal("expected queue to be empty after DrainTo")
	}
}
