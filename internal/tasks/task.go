// Package tasks tracks processing work items and hands them to executors
// in priority order.
package tasks

import (
	"time"

	"oculith/internal/records"
)

// State describes where a task is in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCancelled State = "cancelled"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateFailed
}

// Task is one unit of pipeline work for a single file. A task owns its
// file for the duration of its run; the registry never dispatches two
// tasks for the same file concurrently.
type Task struct {
	ID       string
	FileID   string
	Steps    []records.Step
	Priority int
	State    State
	Error    string

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	// Existing is set on snapshots returned for a submission that
	// matched an already active task instead of creating a new one.
	Existing bool

	// seq breaks priority ties so equal-priority tasks leave the
	// queue in submission order.
	seq       uint64
	heapIndex int
	cancelled bool
	// claimed marks a task handed to an executor that has not yet
	// acquired its file's lock. Such a task is off the heap but still
	// reported as queued.
	claimed bool
}

// StepNames returns the requested steps as strings, in pipeline order.
func (t *Task) StepNames() []string {
	names := make([]string, len(t.Steps))
	for i, step := range t.Steps {
		names[i] = string(step)
	}
	return names
}

func (t *Task) clone() *Task {
	copied := *t
	copied.Steps = append([]records.Step(nil), t.Steps...)
	return &copied
}

func overlaps(a, b []records.Step) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// taskHeap orders tasks by ascending priority, then submission order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.heapIndex = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.heapIndex = -1
	*h = old[:n-1]
	return task
}
