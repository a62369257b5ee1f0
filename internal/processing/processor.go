// Package processing runs broker deliveries through a fixed set of worker
// goroutines fed by a buffered channel.
package processing

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job is one message pulled from the broker. Done is called exactly once
// with the handler's result so the caller can acknowledge or reject it.
type Job struct {
	RoutingKey string
	Payload    []byte
	Done       func(err error)
}

// HandlerFunc processes one payload.
type HandlerFunc func(ctx context.Context, routingKey string, payload []byte) error

// Processor consumes Jobs with a bounded number of goroutines.
type Processor struct {
	log     *zap.Logger
	handle  HandlerFunc
	queue   chan Job
	workers int
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(log *zap.Logger, handle HandlerFunc, workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		log:     log,
		handle:  handle,
		queue:   make(chan Job, workers*4),
		workers: workers,
	}
}

// Start launches worker goroutines. They exit when ctx is done.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a job, blocking while the buffer is full. It reports false
// if ctx ended first; the job's Done is then not called.
func (p *Processor) Submit(ctx context.Context, job Job) bool {
	select {
	case p.queue <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	err := p.handle(ctx, job.RoutingKey, job.Payload)
	if err != nil {
		p.log.Warn("job failed", zap.String("routing_key", job.RoutingKey), zap.Error(err))
	}
	if job.Done != nil {
		job.Done(err)
	}
}
