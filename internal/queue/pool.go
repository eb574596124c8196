package queue

import (
	"context"
	"sync"

	"astro-bot/pkg/logger"
)

// Pool is an in-process Queue: a buffered channel drained by a fixed number
// of goroutines.
type Pool struct {
	handler Handler
	logger  *logger.Logger
	workers int
	jobs    chan Job

	mu      sync.RWMutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Non-positive sizes fall back to 3 workers and a
// buffer of 100.
func NewPool(workers, buffer int, handler Handler, l *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 3
	}
	if buffer <= 0 {
		buffer = 100
	}

	return &Pool{
		handler: handler,
		logger:  l,
		workers: workers,
		jobs:    make(chan Job, buffer),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.closed {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Infow("Starting delivery workers", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue never blocks: a full buffer is reported as ErrQueueFull.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrQueueClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets workers drain the buffer and waits for them
// until ctx expires, after which running jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("Recovered from panic while delivering", "worker", id, "job_id", job.ID, "panic", r)
		}
	}()

	if err := p.handler(ctx, job); err != nil {
		p.logger.Errorw("Delivery job failed",
			"worker", id, "job_id", job.ID, "user_id", job.UserID, "product", job.Product, "error", err)
	}
}
