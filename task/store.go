package task

import (
	"context"
	"time"
)

// Store is the persistence boundary the rest of this package depends
// on, never a concrete implementation — so the scheduler core can be
// driven by the real mongostore.Store in production and by a fast
// in-memory fake (see task/taskfakes) in tests, exactly the way the
// teacher's usecase layer depends on a repository interface rather than
// a concrete Postgres type.
//
// Every method here either is, or is built from, the single atomic
// primitive the spec requires: a conditional update that reports
// whether it matched and returns a document in one round trip. No
// transactions across documents are required.
type Store interface {
	// Insert persists a new task, assigning it an ID, CreatedAt and
	// UpdatedAt, and returns the stored copy.
	Insert(ctx context.Context, t *Task) (*Task, error)

	// FindByID returns the task with the given ID, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Task, error)

	// FindOne returns the first task matching filter, or ErrNotFound.
	FindOne(ctx context.Context, filter Filter) (*Task, error)

	// Claim atomically transitions one pending, due task whose name is
	// in names to in_progress, stamping lease fields, and returns the
	// document as it stood immediately before the update (so callers
	// can verify, defense-in-depth, that its prior status really was
	// pending). Returns (nil, nil) if nothing matched.
	Claim(ctx context.Context, now time.Time, names []string, workerName string) (*Task, error)

	// CancelTask atomically sets status=cancelled, cancelledAt=now,
	// but only if the current status is pending. Returns the post-image
	// task, or (nil, nil) if nothing matched.
	CancelTask(ctx context.Context, filter Filter, now time.Time) (*Task, error)

	// ExpireOneTimedOut atomically transitions one in_progress task
	// whose timeoutAt has passed to timed_out, stamping
	// finishedRunningAt, and returns the post-image. Returns (nil, nil)
	// if nothing matched; callers loop until that happens.
	ExpireOneTimedOut(ctx context.Context, now time.Time) (*Task, error)

	// Save persists every mutable field of t (status, result, error,
	// finishedRunningAt, logs, sideEffects, nextScheduledAt, ...). It is
	// not conditional. Its only caller is the engine, persisting the
	// terminal transition of the task it is executing; the sweeper never
	// calls it.
	Save(ctx context.Context, t *Task) error

	// DeleteMany removes every task matching filter and reports how many
	// were removed. Test-only, per spec.md §4.B.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// ListPage returns up to limit tasks matching filter, newest first,
	// ordered by (createdAt, id) descending. When cursorCreatedAt is
	// non-nil, only tasks strictly before that (createdAt, id) pair are
	// returned — the keyset-pagination cursor the admin HTTP API exposes.
	ListPage(ctx context.Context, filter Filter, cursorCreatedAt *time.Time, cursorID string, limit int) ([]*Task, error)
}

// Filter is a partial task filter used by CancelTask, FindOne,
// DeleteMany and ListPage. An entirely empty Filter matches every task;
// Scheduler.CancelTask deliberately rejects it to avoid the "nil filter
// matches everything" hazard flagged as an open question against the
// reference implementation.
type Filter struct {
	ID             string
	Name           string
	OriginalTaskID string
}

// IsZero reports whether no field of the filter is set.
func (f Filter) IsZero() bool {
	return f.ID == "" && f.Name == "" && f.OriginalTaskID == ""
}
