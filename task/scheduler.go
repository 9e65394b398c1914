package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ScheduleOption customizes Scheduler.Schedule. The reference
// implementation overloads its fourth argument as either a bare
// milliseconds number (repeatAfterMS) or an options object; Go's static
// typing makes that ambiguity moot; functional options cover both cases
// explicitly. See DESIGN.md for this Open-Question resolution.
type ScheduleOption func(*Task)

// WithRepeatAfter sets the interval at which the task re-occurs after
// each terminal transition, unless a handler overrides it via
// TaskHandle.SetNextScheduledAt.
func WithRepeatAfter(d time.Duration) ScheduleOption {
	return func(t *Task) {
		ms := int(d.Milliseconds())
		t.RepeatAfterMS = &ms
	}
}

// WithTimeout sets the task's per-invocation execution deadline.
func WithTimeout(d time.Duration) ScheduleOption {
	return func(t *Task) {
		ms := int(d.Milliseconds())
		t.TimeoutMS = &ms
	}
}

// WithRetryOnTimeoutCount sets how many times the sweeper may retry this
// task after a lease expiry before giving up.
func WithRetryOnTimeoutCount(n int) ScheduleOption {
	return func(t *Task) {
		t.RetryOnTimeoutCount = n
	}
}

// WithSchedulingTimeout overrides the default scheduling-timeout deadline
// (ScheduledAt + DefaultSchedulingTimeoutMS).
func WithSchedulingTimeout(at time.Time) ScheduleOption {
	return func(t *Task) {
		t.SchedulingTimeoutAt = &at
	}
}

// WithNotifyOnFailure marks the task for an operator notification on its
// first transition into failed or scheduling_timed_out. See Notifier.
func WithNotifyOnFailure() ScheduleOption {
	return func(t *Task) {
		t.NotifyOnFailure = true
	}
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption func(*Scheduler)

// WithNotifier wires an operator-notification sink into the engine a
// Scheduler drives. Tasks scheduled without WithNotifyOnFailure never
// reach it.
func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) {
		s.engine.notifier = n
	}
}

// Scheduler is the thin, client-facing API over the store: schedule,
// cancel, and the two operations (ExpireTimedOutTasks, Execute) that are
// also exposed directly for tests per spec.md §6.
type Scheduler struct {
	store    Store
	registry *Registry
	engine   *Engine
	sweeper  *Sweeper
}

// NewScheduler wires a Scheduler to its store and registry, deriving the
// Engine and Sweeper it needs internally.
func NewScheduler(store Store, registry *Registry, opts ...SchedulerOption) *Scheduler {
	engine := NewEngine(store, registry)
	s := &Scheduler{
		store:    store,
		registry: registry,
		engine:   engine,
		sweeper:  NewSweeper(store, engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule creates a new pending task. schedulingTimeoutAt defaults to
// scheduledAt + DefaultSchedulingTimeoutMS unless WithSchedulingTimeout
// overrides it.
func (s *Scheduler) Schedule(ctx context.Context, name string, scheduledAt time.Time, params any, opts ...ScheduleOption) (*Task, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	defaultTimeout := addMS(scheduledAt, DefaultSchedulingTimeoutMS)
	t := &Task{
		Name:                name,
		Params:              params,
		ScheduledAt:         scheduledAt,
		SchedulingTimeoutAt: &defaultTimeout,
		Status:              StatusPending,
	}
	for _, opt := range opts {
		opt(t)
	}

	created, err := s.store.Insert(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return created, nil
}

// CancelTask atomically cancels the single pending task matching filter.
// filter must match on at least one field — an all-empty filter is
// rejected rather than silently matching every pending task (see
// DESIGN.md for why this departs from the reference behavior). Returns
// (nil, nil) if nothing matched, i.e. no pending task satisfies filter.
func (s *Scheduler) CancelTask(ctx context.Context, filter Filter, clock Clock) (*Task, error) {
	if filter.IsZero() {
		return nil, ErrEmptyFilter
	}
	cancelled, err := s.store.CancelTask(ctx, filter, clock.now())
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	return cancelled, nil
}

// ExpireTimedOutTasks exposes the sweeper for direct use (by tests, or
// by an operator running it out-of-band from the poll loop).
func (s *Scheduler) ExpireTimedOutTasks(ctx context.Context, clock Clock) (int, error) {
	return s.sweeper.ExpireTimedOut(ctx, clock)
}

// Execute exposes the engine for direct use by tests.
func (s *Scheduler) Execute(ctx context.Context, t *Task, clock Clock) (*Task, error) {
	return s.engine.Execute(ctx, t, clock)
}

// Poller returns a Poller wired to this scheduler's store, registry,
// engine and sweeper, ready for StartPolling/Poll.
func (s *Scheduler) Poller(logger *slog.Logger) *Poller {
	return NewPoller(s.store, s.registry, s.engine, s.sweeper, logger)
}

// ListTasksInput configures Scheduler.ListTasks.
type ListTasksInput struct {
	Filter Filter
	Cursor string
	Limit  int
}

// ListTasksResult is a page of tasks and the cursor for the next one.
type ListTasksResult struct {
	Tasks      []*Task
	NextCursor string
}

type listCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeListCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c listCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeListCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(listCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// ListTasks returns a keyset-paginated page of tasks matching
// input.Filter, newest first. Mirrors the teacher's ListSchedules
// cursor pattern: fetch limit+1, use the extra row only to detect that
// another page exists, trim it back off, and build the next cursor from
// the last row returned.
func (s *Scheduler) ListTasks(ctx context.Context, input ListTasksInput) (ListTasksResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var cursorCreatedAt *time.Time
	var cursorID string
	if input.Cursor != "" {
		ts, id, err := decodeListCursor(input.Cursor)
		if err != nil {
			return ListTasksResult{}, fmt.Errorf("list tasks: %w", err)
		}
		cursorCreatedAt, cursorID = ts, id
	}

	tasks, err := s.store.ListPage(ctx, input.Filter, cursorCreatedAt, cursorID, limit+1)
	if err != nil {
		return ListTasksResult{}, fmt.Errorf("list tasks: %w", err)
	}

	var nextCursor string
	if len(tasks) == limit+1 {
		tasks = tasks[:limit]
		last := tasks[limit-1]
		nextCursor = encodeListCursor(last.CreatedAt, last.ID)
	}

	return ListTasksResult{Tasks: tasks, NextCursor: nextCursor}, nil
}
