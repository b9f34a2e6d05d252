package worker

import (
	"context"
	"fmt"
	"sync"
)

// Task is one unit of work run by a Pool
type Task[T any] func(ctx context.Context) T

// PanicError is what a recovered task panic turns into
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

type slot[T any] struct {
	index int
	task  Task[T]
}

// Pool runs tasks on a fixed number of goroutines. Results come back in
// submission order; a task that never ran (pool cancelled first) leaves no
// result.
type Pool[T any] struct {
	workers int
	queue   chan slot[T]
	onPanic func(index int, p *PanicError) T

	mu      sync.Mutex
	next    int
	results map[int]T

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers (at least one).
// onPanic converts the panic of the index-th submitted task into its
// result; nil lets the panic propagate. Cancelling ctx stops workers from
// picking up further tasks.
func NewPool[T any](ctx context.Context, workers int, onPanic func(index int, p *PanicError) T) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool[T]{
		workers: workers,
		queue:   make(chan slot[T], workers),
		onPanic: onPanic,
		results: make(map[int]T),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (p *Pool[T]) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work()
		}
	})
}

func (p *Pool[T]) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case s, ok := <-p.queue:
			if !ok {
				return
			}
			out := p.run(s)
			p.mu.Lock()
			p.results[s.index] = out
			p.mu.Unlock()
		}
	}
}

func (p *Pool[T]) run(s slot[T]) (out T) {
	if p.onPanic != nil {
		defer func() {
			if v := recover(); v != nil {
				out = p.onPanic(s.index, &PanicError{Value: v})
			}
		}()
	}
	return s.task(p.ctx)
}

// Submit queues a task. It blocks while every worker is busy and the queue
// is full, and returns false once the pool is cancelled or closed.
func (p *Pool[T]) Submit(task Task[T]) (queued bool) {
	if p.ctx.Err() != nil {
		return false
	}
	p.mu.Lock()
	index := p.next
	p.next++
	p.mu.Unlock()

	defer func() {
		// send on a closed queue: Wait already ran
		if recover() != nil {
			queued = false
		}
	}()
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- slot[T]{index: index, task: task}:
		return true
	}
}

// Wait closes the queue, waits for queued tasks and returns their results
// in submission order.
func (p *Pool[T]) Wait() []T {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, 0, len(p.results))
	for i := 0; i < p.next; i++ {
		if r, ok := p.results[i]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Shutdown cancels running tasks and stops the workers without draining
// the queue.
func (p *Pool[T]) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
