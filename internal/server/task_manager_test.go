package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskLifecycle(t *testing.T) {
	tm := NewTaskManager(time.Hour)

	task, ctx := tm.NewTask(context.Background(), "idx", "build")
	if task.ID == "" {
		t.Fatal("task has no id")
	}
	if got := task.Snapshot(); got.Status != TaskStatusPending || got.Index != "idx" || got.Kind != "build" {
		t.Fatalf("fresh task = %+v", got)
	}
	select {
	case <-ctx.Done():
		t.Fatal("task context cancelled prematurely")
	default:
	}

	task.Start()
	if got := task.Snapshot(); got.Status != TaskStatusRunning || got.StartedAt.IsZero() {
		t.Fatalf("after Start = %+v", got)
	}

	task.Complete()
	got := task.Snapshot()
	if got.Status != TaskStatusCompleted || got.EndedAt.IsZero() {
		t.Fatalf("after Complete = %+v", got)
	}
	if got.EndedAt.Before(got.StartedAt) {
		t.Fatal("ended before started")
	}
}

func TestTaskFailure(t *testing.T) {
	tm := NewTaskManager(time.Hour)

	task, _ := tm.NewTask(context.Background(), "idx", "build")
	task.Start()
	task.Fail(errors.New("graph went sideways"))
	got := task.Snapshot()
	if got.Status != TaskStatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Error != "graph went sideways" {
		t.Fatalf("error = %q", got.Error)
	}

	cancelled, _ := tm.NewTask(context.Background(), "idx", "build")
	cancelled.Start()
	cancelled.Fail(context.Canceled)
	if got := cancelled.Snapshot(); got.Status != TaskStatusCancelled {
		t.Fatalf("cancellation recorded as %s", got.Status)
	}
}

func TestTaskCancelPropagates(t *testing.T) {
	tm := NewTaskManager(time.Hour)

	task, ctx := tm.NewTask(context.Background(), "idx", "build")
	if !tm.Cancel(task.ID) {
		t.Fatal("Cancel reported unknown task")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("task context not cancelled")
	}

	if tm.Cancel("no-such-id") {
		t.Fatal("Cancel accepted unknown id")
	}
}

func TestTaskListOrder(t *testing.T) {
	tm := NewTaskManager(time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		task, _ := tm.NewTask(context.Background(), "idx", "build")
		ids = append(ids, task.ID)
	}

	listed := tm.List()
	if len(listed) != 5 {
		t.Fatalf("listed %d tasks, want 5", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAt.Before(listed[i-1].CreatedAt) {
			t.Fatal("list not in creation order")
		}
	}
	seen := make(map[string]bool, len(listed))
	for _, task := range listed {
		seen[task.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("task %s missing from list", id)
		}
	}
}

func TestTaskRetentionPrune(t *testing.T) {
	tm := NewTaskManager(time.Minute)

	old, _ := tm.NewTask(context.Background(), "idx", "build")
	old.Start()
	old.Complete()
	old.mu.Lock()
	old.EndedAt = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	running, _ := tm.NewTask(context.Background(), "idx", "build")
	running.Start()
	running.mu.Lock()
	running.StartedAt = time.Now().Add(-time.Hour)
	running.mu.Unlock()

	// Pruning happens when new tasks register.
	fresh, _ := tm.NewTask(context.Background(), "idx", "build")

	if _, found := tm.Get(old.ID); found {
		t.Fatal("expired finished task survived pruning")
	}
	if _, found := tm.Get(running.ID); !found {
		t.Fatal("running task was pruned")
	}
	if _, found := tm.Get(fresh.ID); !found {
		t.Fatal("fresh task missing")
	}
	if got := len(tm.List()); got != 2 {
		t.Fatalf("list length = %d, want 2", got)
	}
}
