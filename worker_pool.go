package ecs

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool is a fixed set of goroutines that execute row-range jobs. A nil
// pool runs jobs inline on the caller's goroutine.
type WorkerPool struct {
	size int
	jobs chan jobRequest
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type jobRequest struct {
	ctx  context.Context
	fn   func(context.Context) jobResult
	done chan jobResult
}

type jobResult struct {
	err  error
	rows int
}

func (r jobResult) Err() error { return r.err }

// NewWorkerPool starts size workers. A non-positive size uses one worker per
// CPU.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = max(runtime.NumCPU(), 1)
	}
	p := &WorkerPool{
		size: size,
		jobs: make(chan jobRequest),
		quit: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

// Size returns the number of workers, 1 for a nil pool.
func (p *WorkerPool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job.done <- runJob(job.ctx, job.fn)
		case <-p.quit:
			return
		}
	}
}

func runJob(ctx context.Context, fn func(context.Context) jobResult) jobResult {
	if err := ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	return fn(ctx)
}

// Submit hands fn to a worker and returns a handle to wait on. It blocks
// until a worker is free.
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context) jobResult) *jobHandle {
	if fn == nil {
		return settled(jobResult{})
	}
	if p == nil {
		return settled(runJob(ctx, fn))
	}
	select {
	case <-p.quit:
		return settled(jobResult{err: ErrWorkerPoolClosed})
	default:
	}
	done := make(chan jobResult, 1)
	select {
	case p.jobs <- jobRequest{ctx: ctx, fn: fn, done: done}:
		return &jobHandle{done: done}
	case <-p.quit:
		return settled(jobResult{err: ErrWorkerPoolClosed})
	case <-ctx.Done():
		return settled(jobResult{err: ctx.Err()})
	}
}

// Close stops the workers once their current jobs finish. It is safe to call
// more than once and on a nil pool.
func (p *WorkerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

type jobHandle struct {
	done chan jobResult
}

func settled(res jobResult) *jobHandle {
	done := make(chan jobResult, 1)
	done <- res
	return &jobHandle{done: done}
}

// Wait blocks until the job completes.
func (h *jobHandle) Wait() jobResult {
	return <-h.done
}
