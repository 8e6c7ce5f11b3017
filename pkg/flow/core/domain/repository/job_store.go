// Package repository defines the Job Store contract consumed by the job manager,
// the acquisition loops, the worker pool and the expired-lock reclaimer.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
)

var (
	// ErrJobNotFound is returned when no job has the requested id (in the requested collection).
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a move between collections is not allowed.
	ErrInvalidTransition = errors.New("invalid job collection transition")
)

// DueJobQuery selects acquirable jobs.
type DueJobQuery struct {
	// Collection is CollectionTimer or CollectionReady.
	Collection model.Collection
	// Now is the reference time for due dates and lock expiry.
	Now time.Time
	// MaxCount bounds the result.
	MaxCount int
	// ExcludeExclusiveLockedCorrelations skips jobs whose correlation already has
	// another exclusive job under a live lock.
	ExcludeExclusiveLockedCorrelations bool
}

// RetryUpdate records a failed attempt that will be retried.
type RetryUpdate struct {
	Retries int
	// DueDate is the backoff due date; nil keeps the job immediately due.
	DueDate *time.Time
	Failure model.FailureDetails
}

// JobStore is the transactional store holding the four job collections.
// Implementations use the transaction found on ctx (see core/tx) when there is one.
type JobStore interface {
	// Insert stores a new job in job.Collection.
	Insert(ctx context.Context, job *model.Job) error
	// FindByID returns the job or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*model.Job, error)

	// SelectDueJobs returns up to MaxCount unlocked (or lock-expired) due jobs of the
	// collection, oldest due date first.
	SelectDueJobs(ctx context.Context, query DueJobQuery) ([]*model.Job, error)
	// TryLock sets the lock fields only if the job is still unlocked or its lock expired
	// before now. A false result means another acquirer won; it is not an error.
	TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error)
	// Unlock clears the lock fields. It returns ErrJobNotFound for unknown ids.
	Unlock(ctx context.Context, id string) error
	// Delete removes the job. It returns ErrJobNotFound for unknown ids.
	Delete(ctx context.Context, id string) error
	// MoveToDeadLetter atomically moves the job to the dead-letter collection,
	// clearing its lock, zeroing its retries and recording the failure.
	MoveToDeadLetter(ctx context.Context, id string, failure model.FailureDetails) error
	// SelectExpiredLocks returns up to pageSize jobs whose lock expired before now.
	SelectExpiredLocks(ctx context.Context, now time.Time, pageSize int) ([]*model.Job, error)
	// ClearExpiredLock clears the lock only if it is still expired at now.
	// It reports whether a lock was cleared; clearing an unlocked job is a no-op.
	ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error)

	// UpdateRetry clears the lock and records a failed attempt that will be retried.
	UpdateRetry(ctx context.Context, id string, update RetryUpdate) error
	// Reschedule clears the lock and sets a new due date. A ready job returns to the
	// timer collection; jobs in other collections stay where they are.
	Reschedule(ctx context.Context, id string, dueDate time.Time) error
	// PromoteTimer moves a fired timer to the ready collection, keeping its lock. It
	// reports false when the job is not a timer whose recorded lock owner is owner.
	PromoteTimer(ctx context.Context, id, owner string) (bool, error)
	// MoveToCollection moves one job from one collection to another.
	// It returns ErrJobNotFound when the job is not in from.
	MoveToCollection(ctx context.Context, id string, from, to model.Collection) error
	// MoveByCorrelation moves every job of a correlation from one collection to another
	// and returns the moved jobs.
	MoveByCorrelation(ctx context.Context, correlationID string, from, to model.Collection) ([]*model.Job, error)
	// FindByCollection pages through a collection ordered by creation time.
	FindByCollection(ctx context.Context, collection model.Collection, offset, limit int) ([]*model.Job, error)
	// CountByCollection counts the jobs in a collection.
	CountByCollection(ctx context.Context, collection model.Collection) (int64, error)
}
