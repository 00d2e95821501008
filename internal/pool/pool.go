// Package pool runs dequeued tasks on a fixed set of executors.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"oculith/internal/logging"
	"oculith/internal/tasks"
)

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, task *tasks.Task)
}

// Pool pulls tasks from the registry and executes them on a bounded
// worker set. A single dispatcher feeds the workers, so tasks start in
// the order the registry releases them; a per-file lock keeps two
// tasks for the same file from running at once.
type Pool struct {
	registry *tasks.Registry
	runner   Runner
	workers  *ants.Pool
	locks    *keyedLocks
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New builds a pool with the given worker count.
func New(workerCount int, registry *tasks.Registry, runner Runner, logger *slog.Logger) (*Pool, error) {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	workers, err := ants.NewPool(workerCount)
	if err != nil {
		return nil, err
	}
	return &Pool{
		registry: registry,
		runner:   runner,
		workers:  workers,
		locks:    newKeyedLocks(),
		logger:   logging.NewComponentLogger(logger, "pool"),
	}, nil
}

// Start runs the dispatch loop until the context ends or the registry
// closes, then waits for in-flight tasks to finish.
func (p *Pool) Start(ctx context.Context) error {
	defer p.wg.Wait()

	for {
		task, err := p.registry.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, tasks.ErrClosed) {
				return nil
			}
			return err
		}

		p.wg.Add(1)
		// Submit blocks while every worker is busy, which is what
		// keeps dispatch order aligned with queue order.
		if err := p.workers.Submit(func() {
			defer p.wg.Done()
			release := p.locks.Acquire(task.FileID)
			defer release()
			p.runner.Run(ctx, task)
		}); err != nil {
			p.wg.Done()
			p.logger.Error("submitting task to workers",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err))
			if finishErr := p.registry.Finish(task.ID, tasks.StateFailed, "executor unavailable"); finishErr != nil {
				p.logger.Error("marking task failed", logging.Error(finishErr))
			}
		}
	}
}

// Close releases the workers after in-flight tasks drain.
func (p *Pool) Close() {
	p.wg.Wait()
	p.workers.Release()
}
