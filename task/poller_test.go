package task_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nullcrew/taskforge/task"
	"github.com/nullcrew/taskforge/task/taskfakes"
)

func TestStartPolling_SecondCallReturnsSameCancel(t *testing.T) {
	store := taskfakes.NewStore()
	sched := task.NewScheduler(store, task.NewRegistry())
	poller := sched.Poller(nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	opts := task.StartPollingOptions{
		Interval:    10 * time.Millisecond,
		PollOptions: task.PollOptions{Clock: frozen(t0)},
	}
	cancel1 := poller.StartPolling(ctx, opts)
	cancel2 := poller.StartPolling(ctx, opts)

	if cancel1 == nil || cancel2 == nil {
		t.Fatalf("expected non-nil cancel handles")
	}

	// Calling either returned handle stops the single loop; idempotent.
	cancel1()
	cancel2()
}

func TestStartPolling_CancelAwaitsInFlightTick(t *testing.T) {
	store := taskfakes.NewStore()
	registry := task.NewRegistry()

	var running atomic.Bool
	released := make(chan struct{})
	registry.RegisterHandler("slow", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) {
		running.Store(true)
		<-released
		return nil, nil
	})
	sched := task.NewScheduler(store, registry)

	if _, err := sched.Schedule(context.Background(), "slow", t0, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	poller := sched.Poller(nil)
	cancel := poller.StartPolling(context.Background(), task.StartPollingOptions{
		Interval:    5 * time.Millisecond,
		PollOptions: task.PollOptions{Clock: frozen(t0)},
	})

	deadline := time.Now().Add(2 * time.Second)
	for !running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !running.Load() {
		t.Fatalf("handler never started")
	}

	done := make(chan struct{})
	go func() {
		cancel()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("cancel returned before in-flight execution released")
	case <-time.After(50 * time.Millisecond):
	}

	close(released)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel did not return after releasing in-flight execution")
	}
}

// P2: with N workers polling the same store concurrently, every one of
// M pending-and-due tasks is claimed by exactly one worker — never zero,
// never two.
func TestPoll_ConcurrentWorkersClaimEachTaskExactlyOnce(t *testing.T) {
	const workers = 8
	const tasks = 50

	store := taskfakes.NewStore()
	registry := task.NewRegistry()

	var mu sync.Mutex
	claimedBy := make(map[string]string)

	registry.RegisterHandler("work", func(_ context.Context, _ any, h *task.TaskHandle) (any, error) {
		mu.Lock()
		claimedBy[h.Task().ID] = h.Task().WorkerName
		mu.Unlock()
		return nil, nil
	})
	sched := task.NewScheduler(store, registry)

	var ids []string
	for i := 0; i < tasks; i++ {
		created, err := sched.Schedule(context.Background(), "work", t0, nil)
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		ids = append(ids, created.ID)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			poller := sched.Poller(nil)
			_ = poller.Poll(context.Background(), task.PollOptions{
				Parallel:   4,
				WorkerName: workerLabel(worker),
				Clock:      frozen(t0),
			})
		}(w)
	}
	wg.Wait()

	for _, id := range ids {
		got, err := store.FindByID(context.Background(), id)
		if err != nil {
			t.Fatalf("find %s: %v", id, err)
		}
		if got.Status != task.StatusSucceeded {
			t.Fatalf("task %s status = %s, want succeeded (claimed by exactly one worker)", id, got.Status)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(claimedBy) != tasks {
		t.Fatalf("handler ran for %d distinct tasks, want %d (duplicate or missed claim)", len(claimedBy), tasks)
	}
}

func workerLabel(n int) string {
	return "worker-" + string(rune('a'+n))
}
