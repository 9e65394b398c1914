// Package task implements a durable, distributed task scheduler core: a
// task record lifecycle, an atomic claim/lease protocol safe under
// concurrent workers, an execution engine with per-task timeouts, and
// the repeat/retry/scheduling-timeout sweeper. The persistence substrate
// is any Store implementation offering atomic conditional updates; see
// the mongostore subpackage for the reference MongoDB-backed one.
package task

import (
	"errors"
	"time"
)

// Status is a task's position in its state machine. Transitions are
// restricted to the edges documented on the exported operations; no
// status ever regresses from a terminal value.
type Status string

const (
	StatusPending             Status = "pending"
	StatusInProgress          Status = "in_progress"
	StatusSucceeded           Status = "succeeded"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusTimedOut            Status = "timed_out"
	StatusSchedulingTimedOut  Status = "scheduling_timed_out"
)

// Terminal reports whether status is one that no further transition can
// follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut, StatusSchedulingTimedOut:
		return true
	default:
		return false
	}
}

const (
	// DefaultLeaseMS bounds how long a worker may hold a claimed task
	// before the sweeper considers it abandoned, regardless of the
	// task's own TimeoutMS. See leaseMS for the caveat this implies.
	DefaultLeaseMS = 10 * 60 * 1000

	// DefaultSchedulingTimeoutMS is the default deadline, measured from
	// ScheduledAt, by which a task must be claimed before it is
	// considered scheduling-timed-out.
	DefaultSchedulingTimeoutMS = 10 * 60 * 1000
)

var (
	ErrEmptyName       = errors.New("task: name must not be empty")
	ErrEmptyFilter     = errors.New("task: filter must match on at least one field")
	ErrNotFound        = errors.New("task: not found")
	ErrAlreadyPolling  = errors.New("task: poller already running")
)

// LogEntry is an append-only structured log line attached to a task by
// handler code via TaskHandle.Log.
type LogEntry struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Message   string    `bson:"message"   json:"message"`
	Extra     any       `bson:"extra,omitempty" json:"extra,omitempty"`
}

// SideEffect is an append-only record of an external effect a handler
// performed, attached via TaskHandle.RecordSideEffect.
type SideEffect struct {
	Start  time.Time `bson:"start"  json:"start"`
	End    time.Time `bson:"end"    json:"end"`
	Name   string    `bson:"name"   json:"name"`
	Params any       `bson:"params,omitempty" json:"params,omitempty"`
	Result any       `bson:"result,omitempty" json:"result,omitempty"`
}

// TaskError captures a handler failure (or synthesized timeout failure)
// the way it is persisted on the record.
type TaskError struct {
	Message string `bson:"message" json:"message"`
	Stack   string `bson:"stack,omitempty" json:"stack,omitempty"`
}

// Task is a durable record of one scheduled occurrence. See spec.md §3
// for the field-by-field contract; this struct is a literal transcription.
type Task struct {
	ID   string `bson:"_id,omitempty" json:"id"`
	Name string `bson:"name" json:"name"`

	Params any `bson:"params,omitempty" json:"params,omitempty"`

	ScheduledAt         time.Time  `bson:"scheduledAt" json:"scheduledAt"`
	SchedulingTimeoutAt *time.Time `bson:"schedulingTimeoutAt,omitempty" json:"schedulingTimeoutAt,omitempty"`

	TimeoutMS *int       `bson:"timeoutMS,omitempty" json:"timeoutMS,omitempty"`
	TimeoutAt *time.Time `bson:"timeoutAt,omitempty" json:"timeoutAt,omitempty"`

	StartedRunningAt  *time.Time `bson:"startedRunningAt,omitempty" json:"startedRunningAt,omitempty"`
	FinishedRunningAt *time.Time `bson:"finishedRunningAt,omitempty" json:"finishedRunningAt,omitempty"`
	CancelledAt       *time.Time `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`

	WorkerName string `bson:"workerName,omitempty" json:"workerName,omitempty"`

	Status Status `bson:"status" json:"status"`

	Result any        `bson:"result,omitempty" json:"result,omitempty"`
	Error  *TaskError `bson:"error,omitempty"  json:"error,omitempty"`

	RepeatAfterMS   *int       `bson:"repeatAfterMS,omitempty" json:"repeatAfterMS,omitempty"`
	NextScheduledAt *time.Time `bson:"nextScheduledAt,omitempty" json:"nextScheduledAt,omitempty"`

	RetryOnTimeoutCount int `bson:"retryOnTimeoutCount" json:"retryOnTimeoutCount"`

	PreviousTaskID string `bson:"previousTaskId,omitempty" json:"previousTaskId,omitempty"`
	OriginalTaskID string `bson:"originalTaskId,omitempty" json:"originalTaskId,omitempty"`

	// NotifyOnFailure marks a task whose first transition into failed or
	// scheduling_timed_out should alert an operator out-of-band. It is
	// purely an operational side-channel — it never affects the state
	// machine or follow-up logic.
	NotifyOnFailure bool `bson:"notifyOnFailure,omitempty" json:"notifyOnFailure,omitempty"`

	Logs        []LogEntry   `bson:"logs,omitempty" json:"logs,omitempty"`
	SideEffects []SideEffect `bson:"sideEffects,omitempty" json:"sideEffects,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// leaseMS returns the claim-time lease length in milliseconds: the
// task's own TimeoutMS capped by DefaultLeaseMS. This caps a task's
// execution window at ten minutes even if TimeoutMS asks for longer —
// preserved from the reference behavior; see DESIGN.md.
func leaseMS(timeoutMS *int) int {
	if timeoutMS == nil {
		return DefaultLeaseMS
	}
	if *timeoutMS < DefaultLeaseMS {
		return *timeoutMS
	}
	return DefaultLeaseMS
}

func msPtr(ms int) *int { return &ms }

func addMS(t time.Time, ms int) time.Time {
	return t.Add(time.Duration(ms) * time.Millisecond)
}
