package lane

import (
	"context"
	"log/slog"
	"sync"
)

// Handler processes one claimed job. Errors are the handler's own
// business: a lane delivers at least once and never re-queues on its
// own, so retry decisions belong to the saga that scheduled the job.
type Handler interface {
	Handle(ctx context.Context, job Job)
}

// Pool manages a fixed number of worker goroutines draining one lane.
type Pool struct {
	numWorkers int
	jobs       chan Job
	handler    Handler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, handler Handler, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a job to the worker pool.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.handler.Handle(ctx, job)
		}
	}
}
