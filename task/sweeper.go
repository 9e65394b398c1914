package task

import (
	"context"
	"fmt"
)

// Sweeper reclaims tasks whose lease has expired. It is idempotent and
// safe to run from any number of workers concurrently: each record
// transitions at most once, because the store's conditional update
// requires the record still be in_progress.
type Sweeper struct {
	store  Store
	engine *Engine
}

// NewSweeper wires a Sweeper to the store it sweeps and the engine it
// borrows follow-up logic from for repeat/retry successors.
func NewSweeper(store Store, engine *Engine) *Sweeper {
	return &Sweeper{store: store, engine: engine}
}

// ExpireTimedOut repeatedly performs the atomic lease-expiry update
// until the store reports nothing left to sweep, handling each swept
// task's retry-or-repeat follow-up along the way. It returns the number
// of tasks it swept.
func (s *Sweeper) ExpireTimedOut(ctx context.Context, clock Clock) (int, error) {
	now := clock.now()
	swept := 0
	for {
		t, err := s.store.ExpireOneTimedOut(ctx, now)
		if err != nil {
			return swept, fmt.Errorf("sweeper: expire: %w", err)
		}
		if t == nil {
			return swept, nil
		}
		swept++
		if err := s.handleSwept(ctx, t, clock); err != nil {
			return swept, fmt.Errorf("sweeper: handle swept task %s: %w", t.ID, err)
		}
	}
}

// handleSwept implements spec.md §4.F's per-task branch: a retry if the
// task has retries left, otherwise the ordinary repeat follow-up logic.
func (s *Sweeper) handleSwept(ctx context.Context, t *Task, clock Clock) error {
	if t.RetryOnTimeoutCount > 0 {
		return s.insertRetry(ctx, t, clock)
	}
	return s.engine.followUp(ctx, t, clock)
}

// insertRetry clones a swept task into a fresh pending occurrence at the
// same ScheduledAt, decrementing its remaining retry budget. Per the
// reference behavior (and an open question left unresolved upstream),
// retries are deliberately NOT linked via PreviousTaskID/OriginalTaskID
// — only repeat successors are. Preserved as specified.
func (s *Sweeper) insertRetry(ctx context.Context, t *Task, clock Clock) error {
	schedulingTimeoutAt := addMS(clock.now(), DefaultSchedulingTimeoutMS)
	retry := &Task{
		Name:                t.Name,
		Params:              t.Params,
		ScheduledAt:         t.ScheduledAt,
		SchedulingTimeoutAt: &schedulingTimeoutAt,
		TimeoutMS:           t.TimeoutMS,
		RepeatAfterMS:       t.RepeatAfterMS,
		RetryOnTimeoutCount: t.RetryOnTimeoutCount - 1,
		Status:              StatusPending,
	}
	_, err := s.store.Insert(ctx, retry)
	return err
}
