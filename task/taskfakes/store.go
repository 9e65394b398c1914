// Package taskfakes provides an in-memory task.Store for fast,
// deterministic tests that exercise the claim protocol and state
// machine without a live MongoDB instance. It implements exactly the
// atomic-conditional-update contract task.Store documents, guarded by a
// single mutex standing in for the document store's own atomicity.
package taskfakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nullcrew/taskforge/task"
)

// Store is an in-memory task.Store. The zero value is not usable; use
// NewStore. Safe for concurrent use — every operation holds the single
// mutex for its whole atomic step, the same way a real document store's
// findOneAndUpdate is atomic per document.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*task.Task
	order []string // insertion order, used as the store's tie-break
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*task.Task)}
}

func clone(t *task.Task) *task.Task {
	cp := *t
	cp.Logs = append([]task.LogEntry(nil), t.Logs...)
	cp.SideEffects = append([]task.SideEffect(nil), t.SideEffects...)
	return &cp
}

func (s *Store) Insert(_ context.Context, t *task.Task) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := clone(t)
	stored.ID = uuid.NewString()
	if stored.Status == "" {
		stored.Status = task.StatusPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.byID[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return clone(stored), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return clone(t), nil
}

// All returns every stored task in insertion order. It is not part of
// task.Store — it exists only so tests can inspect store state that a
// single-match FindOne can't express (e.g. "the pending record besides
// this one").
func (s *Store) All() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*task.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.byID[id]))
	}
	return out
}

func matches(t *task.Task, f task.Filter) bool {
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.Name != "" && t.Name != f.Name {
		return false
	}
	if f.OriginalTaskID != "" && t.OriginalTaskID != f.OriginalTaskID {
		return false
	}
	return true
}

func (s *Store) FindOne(_ context.Context, f task.Filter) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.byID[id]
		if matches(t, f) {
			return clone(t), nil
		}
	}
	return nil, task.ErrNotFound
}

// nameSet is a tiny membership helper; names lists are small and sorted.
func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Claim scans tasks in ScheduledAt order, ties broken by insertion
// order (matching mongostore's sort on scheduledAt), picking the first
// pending, due, known-name task.
func (s *Store) Claim(_ context.Context, now time.Time, names []string, workerName string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := nameSet(names)

	ids := append([]string(nil), s.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.byID[ids[i]].ScheduledAt.Before(s.byID[ids[j]].ScheduledAt)
	})

	for _, id := range ids {
		t := s.byID[id]
		if t.Status != task.StatusPending {
			continue
		}
		if t.ScheduledAt.After(now) {
			continue
		}
		if _, ok := allowed[t.Name]; !ok {
			continue
		}

		pre := clone(t)

		leaseMS := task.DefaultLeaseMS
		if t.TimeoutMS != nil && *t.TimeoutMS < leaseMS {
			leaseMS = *t.TimeoutMS
		}
		timeoutAt := now.Add(time.Duration(leaseMS) * time.Millisecond)

		t.Status = task.StatusInProgress
		t.StartedRunningAt = &now
		t.TimeoutAt = &timeoutAt
		t.WorkerName = workerName
		t.UpdatedAt = now

		return pre, nil
	}
	return nil, nil
}

func (s *Store) CancelTask(_ context.Context, f task.Filter, now time.Time) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.byID[id]
		if t.Status != task.StatusPending {
			continue
		}
		if !matches(t, f) {
			continue
		}
		t.Status = task.StatusCancelled
		t.CancelledAt = &now
		t.UpdatedAt = now
		return clone(t), nil
	}
	return nil, nil
}

func (s *Store) ExpireOneTimedOut(_ context.Context, now time.Time) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.byID[id]
		if t.Status != task.StatusInProgress {
			continue
		}
		if t.TimeoutAt == nil || t.TimeoutAt.After(now) {
			continue
		}
		t.Status = task.StatusTimedOut
		t.FinishedRunningAt = &now
		t.UpdatedAt = now
		return clone(t), nil
	}
	return nil, nil
}

func (s *Store) Save(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[t.ID]
	if !ok {
		return task.ErrNotFound
	}
	now := time.Now()
	updated := clone(t)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = now
	s.byID[t.ID] = updated
	return nil
}

// ListPage returns tasks matching f, newest first by (CreatedAt, ID),
// applying the keyset cursor if given.
func (s *Store) ListPage(_ context.Context, f task.Filter, cursorCreatedAt *time.Time, cursorID string, limit int) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*task.Task, 0, len(s.order))
	for _, id := range s.order {
		t := s.byID[id]
		if matches(t, f) {
			all = append(all, t)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	out := make([]*task.Task, 0, limit)
	for _, t := range all {
		if cursorCreatedAt != nil {
			before := t.CreatedAt.Before(*cursorCreatedAt)
			sameInstantEarlierID := t.CreatedAt.Equal(*cursorCreatedAt) && t.ID < cursorID
			if !before && !sameInstantEarlierID {
				continue
			}
		}
		out = append(out, clone(t))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeleteMany(_ context.Context, f task.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining []string
	var deleted int64
	for _, id := range s.order {
		t := s.byID[id]
		if matches(t, f) {
			delete(s.byID, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
	return deleted, nil
}
