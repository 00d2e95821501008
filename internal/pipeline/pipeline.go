// Package pipeline drives files through their requested steps. It is
// the only place that moves records between statuses while a task
// runs, so every transition and event flows through one code path.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"oculith/internal/events"
	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/stage"
	"oculith/internal/tasks"
)

// Pipeline submits work and executes dequeued tasks.
type Pipeline struct {
	store     *records.Store
	registry  *tasks.Registry
	publisher *events.Publisher
	handlers  map[records.Step]stage.Handler
	logger    *slog.Logger
}

// New wires the pipeline over its collaborators. The handlers map must
// cover every step that can be submitted.
func New(
	store *records.Store,
	registry *tasks.Registry,
	publisher *events.Publisher,
	handlers map[records.Step]stage.Handler,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		store:     store,
		registry:  registry,
		publisher: publisher,
		handlers:  handlers,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Submit queues the requested steps for a file. An empty step list
// requests the full pipeline. The file moves to queued unless a task
// is already processing it.
func (p *Pipeline) Submit(ctx context.Context, fileID string, steps []records.Step, priority int) (*tasks.Task, error) {
	record, err := p.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		steps = append([]records.Step(nil), records.StepOrder...)
	}

	task, err := p.registry.Submit(fileID, steps, priority)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetRequestedSteps(ctx, fileID, task.Steps); err != nil {
		p.abandon(task)
		return nil, err
	}

	if !record.IsProcessing() && record.Status != records.StatusQueued {
		updated, err := p.store.SetStatus(ctx, fileID, records.StatusQueued, "")
		switch {
		case err == nil:
			p.publisher.Publish(events.Event{FileID: fileID, Status: updated.Status})
		case errors.Is(err, services.ErrValidation):
			// A worker moved the file mid-stage between the snapshot
			// and the write; the new task waits its turn.
		default:
			p.abandon(task)
			return nil, err
		}
	}
	return task, nil
}

// Cancel stops a task. A queued task cancelled before any stage ran
// leaves its file back at the resting status, so the record does not
// sit at queued with no task attached.
func (p *Pipeline) Cancel(ctx context.Context, taskID string) (*tasks.Task, error) {
	task, err := p.registry.Cancel(taskID)
	if err != nil {
		return nil, err
	}
	if task.State == tasks.StateCancelled {
		p.restAfterCancel(ctx, task.FileID)
	}
	return task, nil
}

// Run executes a dequeued task to completion, cancellation, or
// failure. It never returns an error; outcomes are recorded on the
// task and the file record.
func (p *Pipeline) Run(ctx context.Context, task *tasks.Task) {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithFileID(ctx, task.FileID)
	logger := logging.WithContext(ctx, p.logger)

	if _, err := p.registry.MarkRunning(task.ID); err != nil {
		logger.Error("marking task running", logging.Error(err))
		return
	}

	record, err := p.store.Get(ctx, task.FileID)
	if err != nil {
		logger.Error("task references missing file", logging.Error(err))
		p.finish(task, tasks.StateFailed, "file record missing")
		return
	}

	if record.Status != records.StatusQueued && !record.IsProcessing() {
		// The submitter's queued write may still be in flight. Bring
		// the record to queued so the first stage transition is legal.
		if updated, err := p.transition(ctx, record.ID, records.StatusQueued, ""); err == nil {
			record = updated
		}
	}

	for _, step := range task.Steps {
		if p.registry.Cancelled(task.ID) || ctx.Err() != nil {
			logger.Info("task cancelled", logging.String(logging.FieldStage, string(step)))
			p.finish(task, tasks.StateCancelled, "")
			p.restAfterCancel(ctx, task.FileID)
			return
		}

		handler, ok := p.handlers[step]
		if !ok {
			p.fail(ctx, record, task, step, services.Wrap(services.ErrConfiguration, "pipeline", "run",
				"no handler for step "+string(step), nil))
			return
		}

		if precondition := step.Precondition(); precondition != "" && !records.StageReached(record.LastStage, precondition) {
			p.fail(ctx, record, task, step, services.Wrap(services.ErrPrecondition, "pipeline", "run",
				"step "+string(step)+" requires "+string(precondition), nil))
			return
		}

		updated, err := p.transition(ctx, record.ID, step.ProcessingStatus(), "")
		if err != nil {
			p.fail(ctx, record, task, step, err)
			return
		}
		record = updated

		stepCtx := services.WithStage(ctx, string(step))
		logger.Info("step started", logging.String(logging.FieldStage, string(step)))
		if err := handler.Execute(stepCtx, record); err != nil {
			p.fail(ctx, record, task, step, err)
			return
		}

		updated, err = p.transition(ctx, record.ID, step.DoneStatus(), "")
		if err != nil {
			p.fail(ctx, record, task, step, err)
			return
		}
		record = updated
		logger.Info("step finished",
			logging.String(logging.FieldStage, string(step)),
			logging.String(logging.FieldStatus, string(record.Status)))
	}

	p.finish(task, tasks.StateCompleted, "")
	logger.Info("task completed", logging.String(logging.FieldStatus, string(record.Status)))
}

// Health reports the readiness of every registered step handler.
func (p *Pipeline) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(p.handlers))
	for _, step := range records.StepOrder {
		if handler, ok := p.handlers[step]; ok {
			out = append(out, handler.HealthCheck(ctx))
		}
	}
	return out
}

func (p *Pipeline) transition(ctx context.Context, fileID string, status records.Status, detail string) (*records.FileRecord, error) {
	updated, err := p.store.SetStatus(ctx, fileID, status, detail)
	if err != nil {
		return nil, err
	}
	p.publisher.Publish(events.Event{FileID: fileID, Status: updated.Status, Detail: detail})
	return updated, nil
}

func (p *Pipeline) fail(ctx context.Context, record *records.FileRecord, task *tasks.Task, step records.Step, cause error) {
	detail := cause.Error()
	logger := logging.WithContext(ctx, p.logger)
	logger.Error("step failed",
		logging.String(logging.FieldStage, string(step)),
		logging.Error(cause))

	if record != nil {
		if _, err := p.transition(ctx, record.ID, records.StatusFailed, detail); err != nil {
			logger.Error("recording failure status", logging.Error(err))
		}
	}
	p.finish(task, tasks.StateFailed, detail)
}

// restAfterCancel returns a still-queued record to its resting status
// once no task remains active for the file, publishing the reverted
// status so subscribers see the file settle.
func (p *Pipeline) restAfterCancel(ctx context.Context, fileID string) {
	if p.registry.Active(fileID) {
		return
	}
	reverted, err := p.store.ResetQueued(ctx, fileID)
	if err != nil {
		p.logger.Error("resetting queued record",
			logging.String(logging.FieldFileID, fileID),
			logging.Error(err))
		return
	}
	if reverted != nil {
		p.publisher.Publish(events.Event{FileID: fileID, Status: reverted.Status})
	}
}

// abandon cancels a task whose submission could not be recorded, so a
// caller-visible failure never leaves work queued behind it.
func (p *Pipeline) abandon(task *tasks.Task) {
	if task.Existing {
		return
	}
	if _, err := p.registry.Cancel(task.ID); err != nil {
		p.logger.Error("abandoning task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}

func (p *Pipeline) finish(task *tasks.Task, state tasks.State, detail string) {
	if err := p.registry.Finish(task.ID, state, detail); err != nil {
		p.logger.Error("finishing task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}
