package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/navigable/smallworld/pkg/metrics"
)

// TaskStatus is the lifecycle state of an asynchronous operation.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task represents one long-running operation, currently always a graph
// build. Snapshots of a task are safe to hand to JSON encoders; live
// tasks are mutated only through their setters.
type Task struct {
	ID        string     `json:"id"`
	Index     string     `json:"index"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`

	mu     sync.RWMutex
	cancel context.CancelFunc
}

// TaskManager tracks asynchronous tasks, keeps them listable in
// creation order, and prunes finished ones after a retention window.
type TaskManager struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	order     *btree.BTreeG[*Task]
	retention time.Duration
}

// taskLess orders tasks by creation time, then id for stability.
func taskLess(a, b *Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// NewTaskManager creates a task manager with the given retention for
// finished tasks.
func NewTaskManager(retention time.Duration) *TaskManager {
	return &TaskManager{
		tasks:     make(map[string]*Task),
		order:     btree.NewBTreeG(taskLess),
		retention: retention,
	}
}

// NewTask registers a pending task for the named index and returns it
// together with a context that the task's Cancel aborts.
func (tm *TaskManager) NewTask(ctx context.Context, index, kind string) (*Task, context.Context) {
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		ID:        uuid.New().String(),
		Index:     index,
		Kind:      kind,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	tm.mu.Lock()
	tm.pruneLocked(time.Now())
	tm.tasks[task.ID] = task
	tm.order.Set(task)
	tm.mu.Unlock()

	metrics.TasksActive.WithLabelValues(string(TaskStatusPending)).Inc()
	return task, taskCtx
}

// Get retrieves a task by id.
func (tm *TaskManager) Get(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}

// List returns snapshots of all tracked tasks in creation order.
func (tm *TaskManager) List() []Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out := make([]Task, 0, tm.order.Len())
	tm.order.Scan(func(t *Task) bool {
		out = append(out, t.Snapshot())
		return true
	})
	return out
}

// Cancel requests cancellation of a task. It reports whether the task
// exists; cancelling a finished task is a no-op.
func (tm *TaskManager) Cancel(id string) bool {
	task, found := tm.Get(id)
	if !found {
		return false
	}
	task.mu.RLock()
	cancel := task.cancel
	task.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// pruneLocked drops finished tasks older than the retention window.
// Callers hold tm.mu.
func (tm *TaskManager) pruneLocked(now time.Time) {
	cutoff := now.Add(-tm.retention)
	var expired []*Task
	tm.order.Scan(func(t *Task) bool {
		if !t.done() {
			return true
		}
		t.mu.RLock()
		old := t.EndedAt.Before(cutoff)
		t.mu.RUnlock()
		if old {
			expired = append(expired, t)
		}
		return true
	})
	for _, t := range expired {
		delete(tm.tasks, t.ID)
		tm.order.Delete(t)
		metrics.TasksActive.WithLabelValues(string(t.Snapshot().Status)).Dec()
	}
}

// Snapshot returns a copy of the task safe for serialization.
func (t *Task) Snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Task{
		ID:        t.ID,
		Index:     t.Index,
		Kind:      t.Kind,
		Status:    t.Status,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		StartedAt: t.StartedAt,
		EndedAt:   t.EndedAt,
	}
}

func (t *Task) done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled
}

// Start marks the task running.
func (t *Task) Start() {
	t.setStatus(TaskStatusRunning)
	t.mu.Lock()
	t.StartedAt = time.Now()
	t.mu.Unlock()
}

// Complete marks the task finished successfully.
func (t *Task) Complete() {
	t.finish(TaskStatusCompleted, nil)
}

// Fail marks the task failed. Cancellation errors record the
// cancelled state instead.
func (t *Task) Fail(err error) {
	if errors.Is(err, context.Canceled) {
		t.finish(TaskStatusCancelled, err)
		return
	}
	t.finish(TaskStatusFailed, err)
}

func (t *Task) finish(status TaskStatus, err error) {
	t.mu.Lock()
	prev := t.Status
	t.Status = status
	if err != nil {
		t.Error = err.Error()
	}
	t.EndedAt = time.Now()
	t.cancel = nil
	t.mu.Unlock()

	metrics.TasksActive.WithLabelValues(string(prev)).Dec()
	metrics.TasksActive.WithLabelValues(string(status)).Inc()
}

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	prev := t.Status
	t.Status = status
	t.mu.Unlock()

	metrics.TasksActive.WithLabelValues(string(prev)).Dec()
	metrics.TasksActive.WithLabelValues(string(status)).Inc()
}
