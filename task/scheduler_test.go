package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/nullcrew/taskforge/task"
	"github.com/nullcrew/taskforge/task/taskfakes"
)

var t0 = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func frozen(at time.Time) task.Clock {
	return func() time.Time { return at }
}

// Scenario 1: basic execute.
func TestScheduleAndExecute_BasicSuccess(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	registry.RegisterHandler("getAnswer", func(_ context.Context, params any, _ *task.TaskHandle) (any, error) {
		return 42, nil
	})
	sched := task.NewScheduler(store, registry)

	created, err := sched.Schedule(context.Background(), "getAnswer", t0, map[string]any{"q": "calc"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 1, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	reloaded, err := store.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if reloaded.Status != task.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", reloaded.Status)
	}
	if reloaded.Result != 42 {
		t.Fatalf("result = %v, want 42", reloaded.Result)
	}
}

// Scenario 2: repeat via RepeatAfterMS.
func TestSchedule_RepeatAfterMS(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	registry.RegisterHandler("getAnswer", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) {
		return 42, nil
	})
	sched := task.NewScheduler(store, registry)

	created, err := sched.Schedule(context.Background(), "getAnswer", t0, map[string]any{"q": "calc"}, task.WithRepeatAfter(5*time.Second))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 1, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	original, err := store.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find original: %v", err)
	}
	if original.Status != task.StatusSucceeded {
		t.Fatalf("original status = %s, want succeeded", original.Status)
	}

	successor, err := store.FindOne(context.Background(), task.Filter{OriginalTaskID: created.ID})
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if successor.Status != task.StatusPending {
		t.Fatalf("successor status = %s, want pending", successor.Status)
	}
	want := t0.Add(5 * time.Second)
	if !successor.ScheduledAt.Equal(want) {
		t.Fatalf("successor.ScheduledAt = %s, want %s", successor.ScheduledAt, want)
	}
	if successor.Name != "getAnswer" {
		t.Fatalf("successor.Name = %s, want getAnswer", successor.Name)
	}
}

// Scenario 3: nextScheduledAt override wins over repeatAfterMS.
func TestExecute_NextScheduledAtOverridesRepeat(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	override := t0.Add(1_000_000 * time.Millisecond)
	registry.RegisterHandler("getAnswer", func(_ context.Context, _ any, h *task.TaskHandle) (any, error) {
		h.SetNextScheduledAt(override)
		return 42, nil
	})
	sched := task.NewScheduler(store, registry)

	created, err := sched.Schedule(context.Background(), "getAnswer", t0, nil, task.WithRepeatAfter(5*time.Second))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 1, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	successor, err := store.FindOne(context.Background(), task.Filter{OriginalTaskID: created.ID})
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if !successor.ScheduledAt.Equal(override) {
		t.Fatalf("successor.ScheduledAt = %s, want %s (override, not +5s repeat)", successor.ScheduledAt, override)
	}
}

// Scenario 7: unregistered names are left untouched by poll.
func TestPoll_OnlyClaimsRegisteredNames(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	registry.RegisterHandler("handledJob", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) {
		return "ok", nil
	})
	sched := task.NewScheduler(store, registry)

	handled, err := sched.Schedule(context.Background(), "handledJob", t0, nil)
	if err != nil {
		t.Fatalf("schedule handled: %v", err)
	}
	unhandled, err := sched.Schedule(context.Background(), "unhandledJob", t0, nil)
	if err != nil {
		t.Fatalf("schedule unhandled: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 2, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	gotHandled, _ := store.FindByID(context.Background(), handled.ID)
	if gotHandled.Status != task.StatusSucceeded {
		t.Fatalf("handled status = %s, want succeeded", gotHandled.Status)
	}

	gotUnhandled, _ := store.FindByID(context.Background(), unhandled.ID)
	if gotUnhandled.Status != task.StatusPending {
		t.Fatalf("unhandled status = %s, want pending", gotUnhandled.Status)
	}
	if gotUnhandled.StartedRunningAt != nil {
		t.Fatalf("unhandled StartedRunningAt should remain nil")
	}
	if gotUnhandled.TimeoutAt != nil {
		t.Fatalf("unhandled TimeoutAt should remain nil")
	}
	if gotUnhandled.WorkerName != "" {
		t.Fatalf("unhandled WorkerName should remain empty")
	}
}

// Boundary: empty handler registry claims nothing.
func TestPoll_EmptyRegistryClaimsNothing(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	sched := task.NewScheduler(store, registry)

	if _, err := sched.Schedule(context.Background(), "anything", t0, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 1, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}
}

// P7: cancelTask only transitions pending; in_progress is untouched.
func TestCancelTask_OnlyTransitionsPending(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	registry.RegisterHandler("noop", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) {
		return nil, nil
	})
	sched := task.NewScheduler(store, registry)

	pending, err := sched.Schedule(context.Background(), "noop", t0.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	cancelled, err := sched.CancelTask(context.Background(), task.Filter{ID: pending.ID}, frozen(t0))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled == nil || cancelled.Status != task.StatusCancelled {
		t.Fatalf("cancelled = %+v, want status cancelled", cancelled)
	}

	// noop succeeds instantly once claimed, so simulate an in-progress
	// task directly via the store to exercise the untouched-by-cancel
	// guarantee without racing the poller.
	inProgress, err := store.Insert(context.Background(), &task.Task{
		Name:        "noop",
		ScheduledAt: t0,
		Status:      task.StatusInProgress,
	})
	if err != nil {
		t.Fatalf("insert in-progress: %v", err)
	}
	result, err := sched.CancelTask(context.Background(), task.Filter{ID: inProgress.ID}, frozen(t0))
	if err != nil {
		t.Fatalf("cancel in-progress: %v", err)
	}
	if result != nil {
		t.Fatalf("cancelling an in_progress task should report no match, got %+v", result)
	}
	reread, err := store.FindByID(context.Background(), inProgress.ID)
	if err != nil {
		t.Fatalf("find in-progress: %v", err)
	}
	if reread.Status != task.StatusInProgress {
		t.Fatalf("in-progress task status changed to %s", reread.Status)
	}
}

func TestCancelTask_RejectsEmptyFilter(t *testing.T) {
	store := taskfakes.NewStore()
	sched := task.NewScheduler(store, task.NewRegistry())
	if _, err := sched.CancelTask(context.Background(), task.Filter{}, frozen(t0)); err != task.ErrEmptyFilter {
		t.Fatalf("err = %v, want ErrEmptyFilter", err)
	}
}

// Boundary: scheduledAt == now is claimable; scheduledAt > now is not.
func TestClaim_ScheduledAtBoundary(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()
	registry.RegisterHandler("j", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) { return nil, nil })
	sched := task.NewScheduler(store, registry)

	due, err := sched.Schedule(context.Background(), "j", t0, nil)
	if err != nil {
		t.Fatalf("schedule due: %v", err)
	}
	future, err := sched.Schedule(context.Background(), "j", t0.Add(time.Second), nil)
	if err != nil {
		t.Fatalf("schedule future: %v", err)
	}

	poller := sched.Poller(nil)
	if err := poller.Poll(context.Background(), task.PollOptions{Parallel: 2, Clock: frozen(t0)}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	gotDue, _ := store.FindByID(context.Background(), due.ID)
	if gotDue.Status != task.StatusSucceeded {
		t.Fatalf("due task status = %s, want succeeded", gotDue.Status)
	}
	gotFuture, _ := store.FindByID(context.Background(), future.ID)
	if gotFuture.Status != task.StatusPending {
		t.Fatalf("future task status = %s, want pending", gotFuture.Status)
	}
}
