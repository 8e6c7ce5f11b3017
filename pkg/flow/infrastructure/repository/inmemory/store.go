// Package inmemory provides a map-backed Job Store and an undo-log transaction
// manager, for tests and for running the engine without a database.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
)

// JobStore keeps jobs in a map. Writes made under an in-memory Tx found on the
// context are undone when that transaction rolls back.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.Job)}
}

// put replaces (or, with next == nil, removes) a job and records the undo step.
// The caller holds s.mu.
func (s *JobStore) put(ctx context.Context, id string, next *model.Job) {
	prev, existed := s.jobs[id]
	if next == nil {
		delete(s.jobs, id)
	} else {
		s.jobs[id] = next
	}
	t, ok := tx.FromContext(ctx)
	if !ok {
		return
	}
	if mt, ok := t.(*Tx); ok {
		mt.record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existed {
				s.jobs[id] = prev
			} else {
				delete(s.jobs, id)
			}
		})
	}
}

// update applies fn to a copy of the job and stores it.
func (s *JobStore) update(ctx context.Context, j *model.Job, fn func(*model.Job)) *model.Job {
	next := j.Clone()
	fn(next)
	next.Version++
	s.put(ctx, j.ID, next)
	return next
}

func (s *JobStore) Insert(ctx context.Context, job *model.Job) error {
	if !job.Collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", repository.ErrInvalidTransition, job.Collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.put(ctx, job.ID, job.Clone())
	return nil
}

func (s *JobStore) FindByID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	return j.Clone(), nil
}

func (s *JobStore) SelectDueJobs(ctx context.Context, query repository.DueJobQuery) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exclusiveLocked := make(map[string]bool)
	if query.ExcludeExclusiveLockedCorrelations {
		for _, j := range s.jobs {
			if j.Exclusive && j.IsLocked(query.Now) && j.CorrelationID != "" {
				exclusiveLocked[j.CorrelationID] = true
			}
		}
	}

	var due []*model.Job
	for _, j := range s.jobs {
		if j.Collection != query.Collection || !j.IsDue(query.Now) || j.IsLocked(query.Now) {
			continue
		}
		if j.Exclusive && exclusiveLocked[j.CorrelationID] {
			continue
		}
		due = append(due, j.Clone())
	}
	sort.Slice(due, func(a, b int) bool {
		da, db := dueTime(due[a]), dueTime(due[b])
		if !da.Equal(db) {
			return da.Before(db)
		}
		return due[a].ID < due[b].ID
	})
	if query.MaxCount > 0 && len(due) > query.MaxCount {
		due = due[:query.MaxCount]
	}
	return due, nil
}

func dueTime(j *model.Job) time.Time {
	if j.DueDate != nil {
		return *j.DueDate
	}
	return j.CreateTime
}

func (s *JobStore) TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.Collection.Acquirable() || j.IsLocked(now) {
		return false, nil
	}
	s.update(ctx, j, func(n *model.Job) { n.Lock(owner, until) })
	return true, nil
}

func (s *JobStore) Unlock(ctx context.Context, id string) error {
	return s.modify(ctx, id, func(n *model.Job) { n.ClearLock() })
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	s.put(ctx, id, nil)
	return nil
}

func (s *JobStore) MoveToDeadLetter(ctx context.Context, id string, failure model.FailureDetails) error {
	return s.modify(ctx, id, func(n *model.Job) {
		n.Collection = model.CollectionDeadLetter
		n.ClearLock()
		n.Retries = 0
		n.RecordFailure(failure)
	})
}

func (s *JobStore) SelectExpiredLocks(ctx context.Context, now time.Time, pageSize int) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*model.Job
	for _, j := range s.jobs {
		if j.IsLockExpired(now) {
			expired = append(expired, j.Clone())
		}
	}
	sort.Slice(expired, func(a, b int) bool {
		return expired[a].LockExpirationTime.Before(*expired[b].LockExpirationTime)
	})
	if pageSize > 0 && len(expired) > pageSize {
		expired = expired[:pageSize]
	}
	return expired, nil
}

func (s *JobStore) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.IsLockExpired(now) {
		return false, nil
	}
	s.update(ctx, j, func(n *model.Job) { n.ClearLock() })
	return true, nil
}

func (s *JobStore) UpdateRetry(ctx context.Context, id string, u repository.RetryUpdate) error {
	return s.modify(ctx, id, func(n *model.Job) {
		n.ClearLock()
		n.Retries = u.Retries
		n.DueDate = nil
		if u.DueDate != nil {
			d := *u.DueDate
			n.DueDate = &d
		}
		n.RecordFailure(u.Failure)
	})
}

func (s *JobStore) Reschedule(ctx context.Context, id string, dueDate time.Time) error {
	return s.modify(ctx, id, func(n *model.Job) {
		n.ClearLock()
		d := dueDate
		n.DueDate = &d
		if n.Collection == model.CollectionReady {
			n.Collection = model.CollectionTimer
		}
	})
}

func (s *JobStore) PromoteTimer(ctx context.Context, id, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Collection != model.CollectionTimer || !j.HeldBy(owner) {
		return false, nil
	}
	s.update(ctx, j, func(n *model.Job) { n.Collection = model.CollectionReady })
	return true, nil
}

func (s *JobStore) MoveToCollection(ctx context.Context, id string, from, to model.Collection) error {
	if from == to || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Collection != from {
		return fmt.Errorf("%w: %s in %s", repository.ErrJobNotFound, id, from)
	}
	s.update(ctx, j, func(n *model.Job) {
		n.Collection = to
		n.ClearLock()
	})
	return nil
}

func (s *JobStore) MoveByCorrelation(ctx context.Context, correlationID string, from, to model.Collection) ([]*model.Job, error) {
	if from == to || !to.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved []*model.Job
	for _, j := range s.jobs {
		if j.CorrelationID != correlationID || j.Collection != from {
			continue
		}
		next := s.update(ctx, j, func(n *model.Job) {
			n.Collection = to
			n.ClearLock()
		})
		moved = append(moved, next.Clone())
	}
	sort.Slice(moved, func(a, b int) bool { return moved[a].ID < moved[b].ID })
	return moved, nil
}

func (s *JobStore) FindByCollection(ctx context.Context, collection model.Collection, offset, limit int) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*model.Job
	for _, j := range s.jobs {
		if j.Collection == collection {
			all = append(all, j.Clone())
		}
	}
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreateTime.Equal(all[b].CreateTime) {
			return all[a].CreateTime.Before(all[b].CreateTime)
		}
		return all[a].ID < all[b].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *JobStore) CountByCollection(ctx context.Context, collection model.Collection) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, j := range s.jobs {
		if j.Collection == collection {
			n++
		}
	}
	return n, nil
}

func (s *JobStore) modify(ctx context.Context, id string, fn func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	s.update(ctx, j, fn)
	return nil
}

var _ repository.JobStore = (*JobStore)(nil)
