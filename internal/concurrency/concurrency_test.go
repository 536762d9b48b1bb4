package concurrency

import (
	"sync"
	"testing"
	"time"
)

func TestLockFreeQueueFIFO(t *testing.T) {
	q := NewLockFreeQueue[int](4)
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("enqueue into a full queue should fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue from an empty queue should fail")
	}
}

func TestLockFreeQueueConcurrentProducers(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	const n = 500
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				for !q.Enqueue(base + i) {
				}
			}
		}(p * n)
	}
	wg.Wait()
	count := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			break
		}
		count++
	}
	if count != n*4 {
		t.Fatalf("expected %d items, got %d", n*4, count)
	}
}

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	e := NewExecutor(2)
	defer e.Close()

	var mu sync.Mutex
	seen := 0
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		if err := e.Submit(func() {
			mu.Lock()
			seen++
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if seen != 5 {
		t.Fatalf("expected 5 tasks run, got %d", seen)
	}
}

func TestExecutorSubmitAfterCloseFails(t *testing.T) {
	e := NewExecutor(1)
	e.Close()
	if err := e.Submit(func() {}); err != ErrExecutorClosed {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	got  []Completion
	done chan struct{}
	want int
}

func (r *recordingHandler) HandleCompletion(c Completion) {
	r.mu.Lock()
	r.got = append(r.got, c)
	n := len(r.got)
	r.mu.Unlock()
	if n == r.want {
		close(r.done)
	}
}

func TestAsyncLoopDrainsPostedCompletions(t *testing.T) {
	loop := NewAsyncLoop(8, 64)
	h := &recordingHandler{done: make(chan struct{}), want: 3}
	loop.RegisterHandler(h)
	go loop.Run()
	defer loop.Stop()

	for i := 0; i < 3; i++ {
		if !loop.Post(Completion{AMID: i}) {
			t.Fatalf("post %d should have succeeded", i)
		}
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completions to drain")
	}
}
