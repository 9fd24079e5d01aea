package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Handler func(ctx context.Context, taskID string)

type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewWorkerPool(maxWorkers int, logger *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem:    make(chan struct{}, maxWorkers),
		logger: logger,
	}
}

// Submit schedules handler for taskID and returns immediately. The task waits
// for a free slot; if ctx ends first it is dropped.
func (p *WorkerPool) Submit(ctx context.Context, taskID string, handler Handler) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			handler(ctx, taskID)
		case <-ctx.Done():
			p.logger.Warn("Task dropped before a worker was free",
				zap.String("task_id", taskID),
				zap.Error(ctx.Err()),
			)
		}
	}()
}

// Size is the maximum number of handlers running at once.
func (p *WorkerPool) Size() int {
	return cap(p.sem)
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
