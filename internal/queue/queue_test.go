package queue

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](16)

	for i := 0; i < 15; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}

	for i := 0; i < 15; i++ {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() returned false for item %d", i)
		}
		if got != i {
			t.Errorf("Dequeue() = %d, want %d", got, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_FIFOAcrossWrap(t *testing.T) {
	q := New[int](4)

	next := 0
	want := 0
	// Interleave so the cursors wrap the ring several times.
	for round := 0; round < 10; round++ {
		for i := 0; i < 2; i++ {
			if err := q.Enqueue(next); err != nil {
				t.Fatalf("round %d: Enqueue(%d) = %v", round, next, err)
			}
			next++
		}
		for i := 0; i < 2; i++ {
			got, _ := q.Dequeue()
			if got != want {
				t.Fatalf("round %d: Dequeue() = %d, want %d", round, got, want)
			}
			want++
		}
	}
}

func TestQueue_RejectsAtCapacityMinusOne(t *testing.T) {
	const capacity = 16
	q := New[int](capacity)

	if q.Cap() != capacity-1 {
		t.Errorf("Cap() = %d, want %d", q.Cap(), capacity-1)
	}

	for i := 0; i < capacity-1; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v, want nil", i, err)
		}
	}

	if err := q.Enqueue(99); !errors.Is(err, ErrFull) {
		t.Fatalf("Enqueue on saturated queue = %v, want ErrFull", err)
	}
	if q.Len() != capacity-1 {
		t.Errorf("Len() = %d, want %d", q.Len(), capacity-1)
	}

	if got, _ := q.Dequeue(); got != 0 {
		t.Errorf("Dequeue() = %d, want 0", got)
	}

	if err := q.Enqueue(100); err != nil {
		t.Errorf("Enqueue after Dequeue = %v, want nil", err)
	}
}

func TestQueue_SmallCapacityRaised(t *testing.T) {
	q := New[string](0)

	if err := q.Enqueue("a"); err != nil {
		t.Fatalf("Enqueue = %v", err)
	}
	if err := q.Enqueue("b"); !errors.Is(err, ErrFull) {
		t.Errorf("second Enqueue = %v, want ErrFull", err)
	}
}

func TestQueue_BlockingDequeue(t *testing.T) {
	q := New[int](4)

	received := make(chan int, 1)
	go func() {
		val, ok := q.Dequeue()
		if ok {
			received <- val
		}
	}()

	select {
	case val := <-received:
		t.Fatalf("Dequeue returned %d before any Enqueue", val)
	case <-time.After(20 * time.Millisecond):
	}

	if err := q.Enqueue(42); err != nil {
		t.Fatalf("Enqueue = %v", err)
	}

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Enqueue")
	}
}

func TestQueue_CloseWakesConsumers(t *testing.T) {
	q := New[int](4)

	const consumers = 3
	var wg sync.WaitGroup
	results := make(chan bool, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Dequeue()
			results <- ok
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumers still blocked after Close")
	}

	close(results)
	for ok := range results {
		if ok {
			t.Error("Dequeue on closed empty queue returned true")
		}
	}
}

func TestQueue_CloseReturnsPending(t *testing.T) {
	q := New[int](8)
	for i := 0; i < 5; i++ {
		_ = q.Enqueue(i)
	}

	pending := q.Close()
	if len(pending) != 5 {
		t.Fatalf("Close() returned %d items, want 5", len(pending))
	}
	for i, v := range pending {
		if v != i {
			t.Errorf("pending[%d] = %d, want %d", i, v, i)
		}
	}

	if err := q.Enqueue(7); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue after Close returned true")
	}
	if again := q.Close(); again != nil {
		t.Errorf("second Close() = %v, want nil", again)
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := New[int](16)

	const (
		producers   = 4
		perProducer = 500
	)

	var (
		mu       sync.Mutex
		seen     = make(map[int]int)
		accepted int
	)

	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				v, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}

	var prod sync.WaitGroup
	var acceptedMu sync.Mutex
	for p := 0; p < producers; p++ {
		prod.Add(1)
		go func(base int) {
			defer prod.Done()
			for i := 0; i < perProducer; i++ {
				// Retry until accepted so every value gets through.
				for q.Enqueue(base+i) != nil {
					time.Sleep(time.Microsecond)
				}
				acceptedMu.Lock()
				accepted++
				acceptedMu.Unlock()
			}
		}(p * perProducer)
	}
	prod.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	q.Close()
	consumers.Wait()

	if accepted != producers*perProducer {
		t.Fatalf("accepted = %d, want %d", accepted, producers*perProducer)
	}
	if len(seen) != producers*perProducer {
		t.Errorf("distinct values dequeued = %d, want %d", len(seen), producers*perProducer)
	}
	for v, n := range seen {
		if n != 1 {
			t.Errorf("value %d dequeued %d times", v, n)
		}
	}
}
