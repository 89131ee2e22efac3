// Package dispatch hands queued generation jobs to background workers, either
// an in-process goroutine pool or a RabbitMQ queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

var (
	ErrQueueFull  = errors.New("dispatch queue full")
	ErrPoolClosed = errors.New("dispatch pool closed")
)

// Handler runs one job. orchestrator.Orchestrator.Run satisfies it.
type Handler func(ctx context.Context, jobID uuid.UUID)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	handler Handler
	workers int
	queue   chan uuid.UUID

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity.
// Non-positive values fall back to 1 worker and a queue of 64.
func NewPool(handler Handler, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		handler: handler,
		workers: workers,
		queue:   make(chan uuid.UUID, queueSize),
	}
}

// Start launches the workers. Jobs keep running until the queue is drained by
// Shutdown; ctx is passed to each handler call.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for jobID := range p.queue {
				p.run(ctx, worker, jobID)
			}
		}(i)
	}
	slog.Info("dispatch pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) run(ctx context.Context, worker int, jobID uuid.UUID) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("dispatch handler panicked", "worker", worker, "job_id", jobID, "panic", fmt.Sprint(rec))
		}
	}()
	p.handler(ctx, jobID)
}

// Submit queues jobID without blocking.
func (p *Pool) Submit(jobID uuid.UUID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue matches store.EnqueueFunc so the pool can be the trigger's hook.
func (p *Pool) Enqueue(ctx context.Context, job *models.GenerationJob) error {
	return p.Submit(job.ID)
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running ones to
// finish or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatch workers: %w", ctx.Err())
	}
}
