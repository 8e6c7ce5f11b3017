package inmemory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func insert(t *testing.T, s *inmemory.JobStore, c model.Collection, correlation string, exclusive bool, due *time.Time) *model.Job {
	t.Helper()
	j := model.NewJob(c, "noop", correlation, 3, t0)
	j.Exclusive = exclusive
	j.DueDate = due
	require.NoError(t, s.Insert(context.Background(), j))
	return j
}

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func TestTryLock_ExactlyOneRacerWins(t *testing.T) {
	s := inmemory.NewJobStore()
	j := insert(t, s, model.CollectionReady, "c1", false, nil)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			ok, err := s.TryLock(context.Background(), j.ID, owner, t0.Add(time.Minute), t0)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

func TestTryLock_ExpiredLockCanBeTaken(t *testing.T) {
	s := inmemory.NewJobStore()
	j := insert(t, s, model.CollectionReady, "c1", false, nil)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, j.ID, "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = s.TryLock(ctx, j.ID, "b", t0.Add(2*time.Minute), t0.Add(30*time.Second))
	assert.False(t, ok, "live lock")

	ok, _ = s.TryLock(ctx, j.ID, "b", t0.Add(3*time.Minute), t0.Add(2*time.Minute))
	assert.True(t, ok, "expired lock")

	got, err := s.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", *got.LockOwner)
}

func TestTryLock_NeverLocksSuspendedOrDeadLetter(t *testing.T) {
	s := inmemory.NewJobStore()
	for _, c := range []model.Collection{model.CollectionSuspended, model.CollectionDeadLetter} {
		j := insert(t, s, c, "c1", false, nil)
		ok, err := s.TryLock(context.Background(), j.ID, "a", t0.Add(time.Minute), t0)
		require.NoError(t, err)
		assert.False(t, ok, c)
	}
	ok, err := s.TryLock(context.Background(), "missing", "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectDueJobs_OrderAndFilters(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	late := insert(t, s, model.CollectionTimer, "c1", false, at(-time.Second))
	early := insert(t, s, model.CollectionTimer, "c2", false, at(-time.Hour))
	insert(t, s, model.CollectionTimer, "c3", false, at(time.Hour))
	locked := insert(t, s, model.CollectionTimer, "c4", false, at(-time.Minute))
	_, err := s.TryLock(ctx, locked.ID, "other", t0.Add(time.Minute), t0)
	require.NoError(t, err)

	due, err := s.SelectDueJobs(ctx, repository.DueJobQuery{Collection: model.CollectionTimer, Now: t0, MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	due, err = s.SelectDueJobs(ctx, repository.DueJobQuery{Collection: model.CollectionTimer, Now: t0, MaxCount: 1})
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestSelectDueJobs_ExcludesCorrelationsWithLockedExclusiveJob(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	running := insert(t, s, model.CollectionReady, "proc", true, nil)
	waiting := insert(t, s, model.CollectionReady, "proc", true, nil)
	shared := insert(t, s, model.CollectionReady, "proc", false, nil)
	_, err := s.TryLock(ctx, running.ID, "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)

	due, err := s.SelectDueJobs(ctx, repository.DueJobQuery{Collection: model.CollectionReady, Now: t0, MaxCount: 10, ExcludeExclusiveLockedCorrelations: true})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, shared.ID, due[0].ID)

	due, err = s.SelectDueJobs(ctx, repository.DueJobQuery{Collection: model.CollectionReady, Now: t0, MaxCount: 10})
	require.NoError(t, err)
	assert.Len(t, due, 2)
	_ = waiting
}

func TestClearExpiredLock_Idempotent(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	j := insert(t, s, model.CollectionReady, "c1", false, nil)
	_, err := s.TryLock(ctx, j.ID, "crashed", t0.Add(time.Minute), t0)
	require.NoError(t, err)

	now := t0.Add(2 * time.Minute)
	expired, err := s.SelectExpiredLocks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	cleared, err := s.ClearExpiredLock(ctx, j.ID, now)
	require.NoError(t, err)
	assert.True(t, cleared)

	before, _ := s.FindByID(ctx, j.ID)
	cleared, err = s.ClearExpiredLock(ctx, j.ID, now)
	require.NoError(t, err)
	assert.False(t, cleared)
	after, _ := s.FindByID(ctx, j.ID)
	assert.Equal(t, before, after)
	assert.Nil(t, after.LockOwner)
	assert.Nil(t, after.LockExpirationTime)
}

func TestMoveToDeadLetter(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	j := insert(t, s, model.CollectionReady, "c1", false, nil)
	_, err := s.TryLock(ctx, j.ID, "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)

	require.NoError(t, s.MoveToDeadLetter(ctx, j.ID, model.NewFailureDetails("boom", "trace")))
	got, err := s.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectionDeadLetter, got.Collection)
	assert.Equal(t, 0, got.Retries)
	assert.Equal(t, "boom", got.ExceptionMessage)
	assert.Nil(t, got.LockOwner)

	for _, c := range []model.Collection{model.CollectionTimer, model.CollectionReady, model.CollectionSuspended} {
		n, err := s.CountByCollection(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, n, c)
	}
	assert.ErrorIs(t, s.MoveToDeadLetter(ctx, "missing", model.FailureDetails{}), repository.ErrJobNotFound)
}

func TestMoveByCorrelation(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	insert(t, s, model.CollectionReady, "proc", false, nil)
	insert(t, s, model.CollectionReady, "proc", false, nil)
	insert(t, s, model.CollectionReady, "other", false, nil)

	moved, err := s.MoveByCorrelation(ctx, "proc", model.CollectionReady, model.CollectionSuspended)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
	n, _ := s.CountByCollection(ctx, model.CollectionSuspended)
	assert.EqualValues(t, 2, n)

	_, err = s.MoveByCorrelation(ctx, "proc", model.CollectionReady, model.CollectionReady)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestRollbackUndoesWrites(t *testing.T) {
	s := inmemory.NewJobStore()
	m := inmemory.NewTxManager()
	kept := insert(t, s, model.CollectionReady, "c1", false, nil)

	t1, err := m.Begin(context.Background())
	require.NoError(t, err)
	ctx := tx.WithTx(context.Background(), t1)
	added := model.NewJob(model.CollectionReady, "noop", "c2", 3, t0)
	require.NoError(t, s.Insert(ctx, added))
	require.NoError(t, s.Delete(ctx, kept.ID))
	require.NoError(t, m.Rollback(t1))

	_, err = s.FindByID(context.Background(), added.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	_, err = s.FindByID(context.Background(), kept.ID)
	assert.NoError(t, err)
	assert.Error(t, m.Commit(t1), "completed transactions cannot be committed")
}

func TestFindByCollectionPages(t *testing.T) {
	s := inmemory.NewJobStore()
	for i := 0; i < 5; i++ {
		insert(t, s, model.CollectionDeadLetter, "c", false, nil)
	}
	page, err := s.FindByCollection(context.Background(), model.CollectionDeadLetter, 3, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	page, err = s.FindByCollection(context.Background(), model.CollectionDeadLetter, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPromoteTimer(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	timer := insert(t, s, model.CollectionTimer, "c1", false, at(-time.Second))
	ready := insert(t, s, model.CollectionReady, "c2", false, nil)

	ok, err := s.PromoteTimer(ctx, timer.ID, "a")
	require.NoError(t, err)
	assert.False(t, ok, "not locked")

	_, err = s.TryLock(ctx, timer.ID, "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	ok, err = s.PromoteTimer(ctx, timer.ID, "b")
	require.NoError(t, err)
	assert.False(t, ok, "locked by another owner")

	ok, err = s.PromoteTimer(ctx, timer.ID, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.FindByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectionReady, got.Collection)
	require.NotNil(t, got.LockOwner, "the lock is kept")
	assert.Equal(t, "a", *got.LockOwner)

	_, err = s.TryLock(ctx, ready.ID, "a", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	ok, err = s.PromoteTimer(ctx, ready.ID, "a")
	require.NoError(t, err)
	assert.False(t, ok, "only timers are promoted")

	ok, err = s.PromoteTimer(ctx, "missing", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReschedule_ReturnsReadyJobsToTimer(t *testing.T) {
	s := inmemory.NewJobStore()
	ctx := context.Background()
	ready := insert(t, s, model.CollectionReady, "c1", false, nil)
	suspended := insert(t, s, model.CollectionSuspended, "c2", false, at(-time.Minute))

	require.NoError(t, s.Reschedule(ctx, ready.ID, t0.Add(time.Hour)))
	require.NoError(t, s.Reschedule(ctx, suspended.ID, t0.Add(time.Hour)))

	got, err := s.FindByID(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectionTimer, got.Collection)
	assert.True(t, t0.Add(time.Hour).Equal(*got.DueDate))
	got, err = s.FindByID(ctx, suspended.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectionSuspended, got.Collection)
}
