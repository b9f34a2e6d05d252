package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func sleepTask(d time.Duration, v int) Task[int] {
	return func(ctx context.Context) int {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return -1
		}
		return v
	}
}

func TestNewPool_Workers(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		if p := NewPool[int](context.Background(), n, nil); p.workers != 1 {
			t.Errorf("NewPool(%d): expected 1 worker, got %d", n, p.workers)
		}
	}
	if p := NewPool[int](context.Background(), 4, nil); p.workers != 4 {
		t.Errorf("expected 4 workers, got %d", p.workers)
	}
}

func TestPool_ResultsInSubmissionOrder(t *testing.T) {
	pool := NewPool[int](context.Background(), 4, nil)
	pool.Start()

	// Later tasks finish first
	for i := 0; i < 8; i++ {
		pool.Submit(sleepTask(time.Duration(8-i)*time.Millisecond, i))
	}

	results := pool.Wait()
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, r := range results {
		if r != i {
			t.Errorf("result %d: expected %d, got %d", i, i, r)
		}
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool[struct{}](context.Background(), workers, nil)
	pool.Start()

	var current, peak int32
	for i := 0; i < 30; i++ {
		pool.Submit(func(ctx context.Context) struct{} {
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return struct{}{}
		})
	}
	pool.Wait()

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Errorf("peak concurrency %d exceeded %d workers", got, workers)
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	var gotIndex int
	pool := NewPool(context.Background(), 2, func(i int, p *PanicError) error {
		gotIndex = i
		return p
	})
	pool.Start()

	pool.Submit(func(context.Context) error { return nil })
	pool.Submit(func(context.Context) error { panic("boom") })
	pool.Submit(func(context.Context) error { return errors.New("plain") })

	results := pool.Wait()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	var pe *PanicError
	if !errors.As(results[1], &pe) || pe.Value != "boom" {
		t.Errorf("expected PanicError(boom) at index 1, got %v", results[1])
	}
	if gotIndex != 1 {
		t.Errorf("onPanic saw index %d, want 1", gotIndex)
	}
	if results[0] != nil || results[2] == nil {
		t.Errorf("neighbouring results disturbed: %v", results)
	}
}

func TestPool_SubmitAfterWaitAndShutdown(t *testing.T) {
	pool := NewPool[int](context.Background(), 1, nil)
	pool.Start()
	pool.Wait()
	if pool.Submit(sleepTask(0, 1)) {
		t.Error("Submit after Wait reported queued")
	}

	pool = NewPool[int](context.Background(), 1, nil)
	pool.Start()
	pool.Shutdown()

	done := make(chan bool)
	go func() { done <- pool.Submit(sleepTask(0, 1)) }()
	select {
	case queued := <-done:
		if queued {
			t.Error("Submit after Shutdown reported queued")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit after Shutdown blocked")
	}
}

func TestPool_ShutdownCancelsRunningTask(t *testing.T) {
	pool := NewPool[int](context.Background(), 1, nil)
	pool.Start()

	started := make(chan struct{})
	var sawCancel int32
	pool.Submit(func(ctx context.Context) int {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&sawCancel, 1)
		return 0
	})
	<-started

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown timed out")
	}
	if atomic.LoadInt32(&sawCancel) != 1 {
		t.Error("running task did not observe cancellation")
	}
}

func TestPool_ParentCancelDropsQueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool[int](ctx, 1, nil)
	pool.Start()
	cancel()

	pool.Submit(sleepTask(0, 1))
	if results := pool.Wait(); len(results) > 1 {
		t.Errorf("expected at most 1 result after cancel, got %d", len(results))
	}
}
