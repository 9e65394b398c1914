package task

import (
	"context"
	"time"
)

// TaskHandle is the narrow, explicit interface a Handler uses to read
// and annotate the task it was invoked for. It is passed as an explicit
// second argument (see Handler) rather than bound implicitly, per the
// design note that favors an explicit handle over an implicit receiver.
type TaskHandle struct {
	task  *Task
	clock Clock
}

func newTaskHandle(t *Task, clock Clock) *TaskHandle {
	return &TaskHandle{task: t, clock: clock}
}

// Task returns the underlying record for read access to its fields
// (ID, Name, RetryOnTimeoutCount, and so on). Handlers should treat it
// as read-only outside of the mutators below; the engine is the only
// caller that persists it.
func (h *TaskHandle) Task() *Task {
	return h.task
}

// Log appends a structured log line to the task. extra may be nil.
func (h *TaskHandle) Log(message string, extra any) {
	h.task.Logs = append(h.task.Logs, LogEntry{
		Timestamp: h.clock.now(),
		Message:   message,
		Extra:     extra,
	})
}

// RecordSideEffect runs fn, timing it, and appends the outcome to the
// task's side-effect log regardless of whether fn returns an error. The
// result and error from fn are also returned to the caller so a handler
// can react to them inline.
func (h *TaskHandle) RecordSideEffect(ctx context.Context, name string, params any, fn func(ctx context.Context) (any, error)) (any, error) {
	start := h.clock.now()
	result, err := fn(ctx)
	end := h.clock.now()
	h.task.SideEffects = append(h.task.SideEffects, SideEffect{
		Start:  start,
		End:    end,
		Name:   name,
		Params: params,
		Result: result,
	})
	return result, err
}

// SetNextScheduledAt overrides the follow-up occurrence's ScheduledAt,
// taking precedence over RepeatAfterMS. See Engine.Execute step 5.
func (h *TaskHandle) SetNextScheduledAt(at time.Time) {
	h.task.NextScheduledAt = &at
}
