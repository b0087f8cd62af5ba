package main

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func newTestLogger() *LeveledLogger {
	return NewLeveledLogger(log.New(io.Discard, "", 0), LogLevelNone)
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	if q.Len() != 5 {
		t.Fatalf("expected 5 items, got %d", q.Len())
	}

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case v := <-got:
		t.Fatalf("Pop returned %q before any push", v)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("RCW 1 2")

	select {
	case v := <-got:
		if v != "RCW 1 2" {
			t.Errorf("expected pushed value, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestQueue_ConcurrentProducersKeepOrder(t *testing.T) {
	type item struct{ producer, seq int }

	const producers = 4
	const perProducer = 500

	q := NewQueue[item]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(item{p, i})
			}
		}(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	next := make([]int, producers)
	for n := 0; n < producers*perProducer; n++ {
		it, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop %d: %v", n, err)
		}
		if it.seq != next[it.producer] {
			t.Fatalf("producer %d: expected seq %d, got %d", it.producer, next[it.producer], it.seq)
		}
		next[it.producer]++
	}

	wg.Wait()
}
