package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/nullcrew/taskforge/task"
	"github.com/nullcrew/taskforge/task/taskfakes"
)

// Scenario 5: lease expiry + retry.
func TestExpireTimedOutTasks_RetriesWhenBudgetRemains(t *testing.T) {
	store := taskfakes.NewStore()
	sched := task.NewScheduler(store, task.NewRegistry())

	startedAt := t0.Add(-2 * time.Minute)
	expiredLease := t0.Add(-1 * time.Second)
	original, err := store.Insert(context.Background(), &task.Task{
		Name:                "whatever",
		ScheduledAt:         startedAt,
		Status:              task.StatusInProgress,
		StartedRunningAt:    &startedAt,
		TimeoutAt:           &expiredLease,
		RetryOnTimeoutCount: 2,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	swept, err := sched.ExpireTimedOutTasks(context.Background(), frozen(t0))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	reread, err := store.FindByID(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("find original: %v", err)
	}
	if reread.Status != task.StatusTimedOut {
		t.Fatalf("original status = %s, want timed_out", reread.Status)
	}

	var retry *task.Task
	for _, candidate := range store.All() {
		if candidate.Name == "whatever" && candidate.ID != original.ID {
			retry = candidate
		}
	}
	if retry == nil {
		t.Fatalf("no retry record found alongside original %s", original.ID)
	}

	if retry.Status != task.StatusPending {
		t.Fatalf("retry status = %s, want pending", retry.Status)
	}
	if retry.RetryOnTimeoutCount != 1 {
		t.Fatalf("retry.RetryOnTimeoutCount = %d, want 1", retry.RetryOnTimeoutCount)
	}
	if !retry.ScheduledAt.Equal(startedAt) {
		t.Fatalf("retry.ScheduledAt = %s, want unchanged %s", retry.ScheduledAt, startedAt)
	}
	if retry.StartedRunningAt != nil || retry.FinishedRunningAt != nil || retry.WorkerName != "" || retry.TimeoutAt != nil || retry.Error != nil || retry.Result != nil {
		t.Fatalf("retry should have cleared lease/result fields, got %+v", retry)
	}
	if retry.PreviousTaskID != "" || retry.OriginalTaskID != "" {
		t.Fatalf("retries must not be linked via previous/original task id, got previous=%q original=%q", retry.PreviousTaskID, retry.OriginalTaskID)
	}
	wantSchedulingTimeout := t0.Add(10 * 60 * 1000 * time.Millisecond)
	if retry.SchedulingTimeoutAt == nil || !retry.SchedulingTimeoutAt.Equal(wantSchedulingTimeout) {
		t.Fatalf("retry.SchedulingTimeoutAt = %v, want %s", retry.SchedulingTimeoutAt, wantSchedulingTimeout)
	}
}

// When retries are exhausted, the sweeper falls back to ordinary repeat
// follow-up logic (or nothing, if there is none).
func TestExpireTimedOutTasks_NoRetryBudgetFallsBackToRepeat(t *testing.T) {
	store := taskfakes.NewStore()
	sched := task.NewScheduler(store, task.NewRegistry())

	startedAt := t0.Add(-2 * time.Minute)
	expiredLease := t0.Add(-1 * time.Second)
	repeatMS := 30000
	original, err := store.Insert(context.Background(), &task.Task{
		Name:             "whatever",
		ScheduledAt:      startedAt,
		Status:           task.StatusInProgress,
		StartedRunningAt: &startedAt,
		TimeoutAt:        &expiredLease,
		RepeatAfterMS:    &repeatMS,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := sched.ExpireTimedOutTasks(context.Background(), frozen(t0)); err != nil {
		t.Fatalf("expire: %v", err)
	}

	successor, err := store.FindOne(context.Background(), task.Filter{OriginalTaskID: original.ID})
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	want := startedAt.Add(30 * time.Second)
	if !successor.ScheduledAt.Equal(want) {
		t.Fatalf("successor.ScheduledAt = %s, want %s", successor.ScheduledAt, want)
	}
}

// The sweeper is idempotent: running it again with nothing newly
// expired sweeps zero tasks.
func TestExpireTimedOutTasks_IdempotentWhenNothingExpired(t *testing.T) {
	store := taskfakes.NewStore()
	sched := task.NewScheduler(store, task.NewRegistry())

	swept, err := sched.ExpireTimedOutTasks(context.Background(), frozen(t0))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}
}
