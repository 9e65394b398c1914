package task

import (
	"context"
	"fmt"
	"time"
)

// Notifier alerts an operator when a NotifyOnFailure task reaches a
// terminal failure. Implementations must not block the engine for long;
// they are called synchronously from Execute.
type Notifier interface {
	NotifyFailure(ctx context.Context, t *Task)
}

// Engine runs claimed tasks against a Registry and persists their
// terminal transition and any follow-up occurrence. It never returns a
// handler's error to its caller — handler failures are captured onto
// the record, per spec.md §7.
type Engine struct {
	store    Store
	registry *Registry
	notifier Notifier
}

// NewEngine wires an Engine to the store it persists through and the
// registry it dispatches against.
func NewEngine(store Store, registry *Registry) *Engine {
	return &Engine{store: store, registry: registry}
}

func (e *Engine) notifyFailure(ctx context.Context, t *Task) {
	if e.notifier != nil && t.NotifyOnFailure {
		e.notifier.NotifyFailure(ctx, t)
	}
}

// Execute runs one claimed task to a terminal state and returns the
// persisted record. It never errors on handler failure; a non-nil error
// here means the Store itself failed. A task whose name has no
// registered handler is returned unmutated (nil, nil) — a worker
// should never have claimed it, but this is the engine's defense in
// depth against that.
func (e *Engine) Execute(ctx context.Context, t *Task, clock Clock) (*Task, error) {
	now := clock.now()

	// Step 1: scheduling-timeout re-check.
	if t.SchedulingTimeoutAt != nil && now.After(*t.SchedulingTimeoutAt) {
		t.Status = StatusSchedulingTimedOut
		t.FinishedRunningAt = &now
		if err := e.store.Save(ctx, t); err != nil {
			return nil, fmt.Errorf("execute: persist scheduling timeout: %w", err)
		}
		if err := e.followUp(ctx, t, clock); err != nil {
			return nil, fmt.Errorf("execute: follow-up after scheduling timeout: %w", err)
		}
		e.notifyFailure(ctx, t)
		return t, nil
	}

	// Step 2: handler dispatch.
	handler, ok := e.registry.Lookup(t.Name)
	if !ok {
		return nil, nil
	}

	// Step 3: run with optional timeout.
	handle := newTaskHandle(t, clock)
	result, runErr := runWithTimeout(ctx, t.TimeoutMS, func(ctx context.Context) (any, error) {
		return handler(ctx, t.Params, handle)
	})

	// Step 4: terminal transition.
	finishedAt := clock.now()
	t.FinishedRunningAt = &finishedAt
	if runErr != nil {
		t.Status = StatusFailed
		t.Error = &TaskError{Message: runErr.Error()}
	} else {
		t.Status = StatusSucceeded
		t.Result = result
	}
	if err := e.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("execute: persist terminal transition: %w", err)
	}

	// Step 5: follow-up.
	if err := e.followUp(ctx, t, clock); err != nil {
		return nil, fmt.Errorf("execute: follow-up: %w", err)
	}

	if t.Status == StatusFailed {
		e.notifyFailure(ctx, t)
	}

	return t, nil
}

// runWithTimeout races fn against timeoutMS, if set. A zero timeoutMS
// fails immediately, treating the deadline as already past. The loser
// of the race is a synthesized failure; the handler goroutine is not
// forcibly killed (Go cannot do that safely) — cancelling its context
// is the only signal it gets, and the worst case is it keeps running in
// the background after the engine has already moved on.
func runWithTimeout(ctx context.Context, timeoutMS *int, fn func(ctx context.Context) (any, error)) (any, error) {
	if timeoutMS == nil {
		return fn(ctx)
	}
	if *timeoutMS == 0 {
		return nil, fmt.Errorf("Task timed out after 0 ms")
	}

	type outcome struct {
		val any
		err error
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan outcome, 1)
	go func() {
		v, err := fn(runCtx)
		resultCh <- outcome{v, err}
	}()

	timer := time.NewTimer(time.Duration(*timeoutMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.val, res.err
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("Task timed out after %d ms", *timeoutMS)
	}
}

// followUp evaluates the repeat rules in spec.md §4.E step 5 and, if
// warranted, inserts a new pending record. It is shared between Execute
// (for the success/failure path and the scheduling-timeout path) and the
// Sweeper (for the retry-less timeout path).
func (e *Engine) followUp(ctx context.Context, t *Task, clock Clock) error {
	next, ok := nextOccurrence(t)
	if !ok {
		return nil
	}

	schedulingTimeoutAt := addMS(next, DefaultSchedulingTimeoutMS)
	originalID := t.OriginalTaskID
	if originalID == "" {
		originalID = t.ID
	}

	successor := &Task{
		Name:                t.Name,
		Params:              t.Params,
		ScheduledAt:         next,
		SchedulingTimeoutAt: &schedulingTimeoutAt,
		TimeoutMS:           t.TimeoutMS,
		RepeatAfterMS:       t.RepeatAfterMS,
		Status:              StatusPending,
		PreviousTaskID:      t.ID,
		OriginalTaskID:      originalID,
	}
	_, err := e.store.Insert(ctx, successor)
	return err
}

// nextOccurrence computes the follow-up's ScheduledAt, if any: a
// handler-set NextScheduledAt wins over RepeatAfterMS; if neither is
// set, there is no follow-up.
func nextOccurrence(t *Task) (time.Time, bool) {
	if t.NextScheduledAt != nil {
		return *t.NextScheduledAt, true
	}
	if t.RepeatAfterMS != nil {
		return addMS(t.ScheduledAt, *t.RepeatAfterMS), true
	}
	return time.Time{}, false
}
