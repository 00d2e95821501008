package tasks

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
)

// ErrClosed is reported once the registry has shut down.
var ErrClosed = errors.New("task registry closed")

// Registry holds every task the daemon knows about and feeds queued
// tasks to executors in priority order. All state lives in memory;
// durable file state belongs to the records store.
type Registry struct {
	logger   *slog.Logger
	maxDepth int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	active  map[string][]*Task // file ID -> queued or running tasks
	byID    map[string]*Task
	nextSeq uint64
	closed  bool
}

// NewRegistry builds a registry that refuses submissions once maxDepth
// tasks are waiting.
func NewRegistry(maxDepth int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		logger:   logging.NewComponentLogger(logger, "tasks"),
		maxDepth: maxDepth,
		active:   make(map[string][]*Task),
		byID:     make(map[string]*Task),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Submit enqueues work for a file. Submitting steps that overlap an
// already queued or running task for the same file returns that task
// instead of creating a second one.
func (r *Registry) Submit(fileID string, steps []records.Step, priority int) (*Task, error) {
	if fileID == "" {
		return nil, services.Wrap(services.ErrValidation, "tasks", "submit", "file id is required", nil)
	}
	if len(steps) == 0 {
		return nil, services.Wrap(services.ErrValidation, "tasks", "submit", "at least one step is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, services.Wrap(ErrClosed, "tasks", "submit", "", nil)
	}

	for _, existing := range r.active[fileID] {
		if overlaps(existing.Steps, steps) {
			r.logger.Debug("submission deduplicated",
				logging.String(logging.FieldFileID, fileID),
				logging.String(logging.FieldTaskID, existing.ID))
			snapshot := existing.clone()
			snapshot.Existing = true
			return snapshot, nil
		}
	}

	if len(r.queue) >= r.maxDepth {
		return nil, services.Wrap(services.ErrQueueFull, "tasks", "submit", "queue depth limit reached", nil)
	}

	ordered := append([]records.Step(nil), steps...)
	records.SortSteps(ordered)

	task := &Task{
		ID:         uuid.NewString(),
		FileID:     fileID,
		Steps:      ordered,
		Priority:   priority,
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
		seq:        r.nextSeq,
	}
	r.nextSeq++

	heap.Push(&r.queue, task)
	r.active[fileID] = append(r.active[fileID], task)
	r.byID[task.ID] = task
	r.cond.Signal()

	r.logger.Info("task queued",
		logging.String(logging.FieldFileID, fileID),
		logging.String(logging.FieldTaskID, task.ID),
		logging.Any("steps", task.StepNames()),
		logging.Int("priority", priority))
	return task.clone(), nil
}

// Dequeue blocks until a queued task is available and hands it to the
// caller. The task stays in the queued state until the executor holds
// the file's lock and calls MarkRunning, so two tasks for one file are
// never both reported as running. Dequeue returns an error once the
// registry closes or the context is cancelled.
func (r *Registry) Dequeue(ctx context.Context) (*Task, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.closed {
			return nil, services.Wrap(ErrClosed, "tasks", "dequeue", "", nil)
		}
		if r.queue.Len() > 0 {
			break
		}
		r.cond.Wait()
	}

	task := heap.Pop(&r.queue).(*Task)
	task.claimed = true
	return task.clone(), nil
}

// MarkRunning transitions a dequeued task to running. Executors call it
// only after acquiring the file's exclusion lock, which keeps at most
// one task per file in the running state.
func (r *Registry) MarkRunning(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.byID[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "tasks", "mark running", "no task with id "+id, nil)
	}
	if task.State.IsTerminal() {
		return nil, services.Wrap(services.ErrTerminal, "tasks", "mark running", "task already "+string(task.State), nil)
	}
	if !task.claimed {
		return nil, services.Wrap(services.ErrValidation, "tasks", "mark running", "task has not been dequeued", nil)
	}

	task.State = StateRunning
	task.StartedAt = time.Now().UTC()
	return task.clone(), nil
}

// Get returns a snapshot of the task with the given ID.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.byID[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "tasks", "get", "no task with id "+id, nil)
	}
	return task.clone(), nil
}

// List returns snapshots of every known task, newest submission first.
func (r *Registry) List() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Task, 0, len(r.byID))
	for _, task := range r.byID {
		out = append(out, task.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

// Active reports whether any queued or running task exists for a file.
func (r *Registry) Active(fileID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[fileID]) > 0
}

// Depth reports the number of tasks currently waiting for an executor.
func (r *Registry) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Cancel stops a task. Queued tasks leave the queue immediately;
// running tasks are flagged and stop at the next stage boundary.
func (r *Registry) Cancel(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.byID[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "tasks", "cancel", "no task with id "+id, nil)
	}
	switch task.State {
	case StateQueued:
		if task.claimed {
			// Already handed to an executor; it stops at the next
			// stage boundary like a running task.
			task.cancelled = true
			r.logger.Info("claimed task flagged for cancellation", logging.String(logging.FieldTaskID, id))
			break
		}
		heap.Remove(&r.queue, task.heapIndex)
		task.State = StateCancelled
		task.FinishedAt = time.Now().UTC()
		r.detachLocked(task)
		r.logger.Info("queued task cancelled", logging.String(logging.FieldTaskID, id))
	case StateRunning:
		task.cancelled = true
		r.logger.Info("running task flagged for cancellation", logging.String(logging.FieldTaskID, id))
	default:
		return nil, services.Wrap(services.ErrTerminal, "tasks", "cancel", "task already "+string(task.State), nil)
	}
	return task.clone(), nil
}

// Cancelled reports whether Cancel has been requested for a running
// task. Executors check this between stages.
func (r *Registry) Cancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.byID[id]
	return ok && task.cancelled
}

// Finish records the outcome of a running task.
func (r *Registry) Finish(id string, state State, detail string) error {
	if !state.IsTerminal() {
		return services.Wrap(services.ErrValidation, "tasks", "finish", "state "+string(state)+" is not terminal", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.byID[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "tasks", "finish", "no task with id "+id, nil)
	}
	if task.State.IsTerminal() {
		return services.Wrap(services.ErrTerminal, "tasks", "finish", "task already "+string(task.State), nil)
	}

	task.State = state
	task.Error = detail
	task.FinishedAt = time.Now().UTC()
	r.detachLocked(task)
	return nil
}

// Close wakes every blocked Dequeue and rejects further submissions.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.cond.Broadcast()
}

func (r *Registry) detachLocked(task *Task) {
	remaining := r.active[task.FileID][:0]
	for _, t := range r.active[task.FileID] {
		if t.ID != task.ID {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) == 0 {
		delete(r.active, task.FileID)
	} else {
		r.active[task.FileID] = remaining
	}
}
