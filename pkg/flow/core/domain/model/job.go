// Package model defines the job entity handled by the async executor.
package model

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Collection names the logical collection a job currently belongs to.
// A job is in exactly one collection at any time.
type Collection string

const (
	// CollectionTimer holds jobs waiting for their due date.
	CollectionTimer Collection = "timer"
	// CollectionReady holds jobs available for acquisition.
	CollectionReady Collection = "ready"
	// CollectionSuspended holds jobs of suspended correlations. They are never acquired.
	CollectionSuspended Collection = "suspended"
	// CollectionDeadLetter holds jobs that exhausted their retries. They are never retried automatically.
	CollectionDeadLetter Collection = "deadletter"
)

// Collections lists every collection in a stable order.
var Collections = []Collection{CollectionTimer, CollectionReady, CollectionSuspended, CollectionDeadLetter}

// Acquirable reports whether jobs in c may be picked up by an acquisition loop.
func (c Collection) Acquirable() bool {
	return c == CollectionTimer || c == CollectionReady
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// maxFailureMessageLength bounds the stored failure message.
const maxFailureMessageLength = 4000

// FailureDetails records the last failure of a job.
type FailureDetails struct {
	Message    string
	StackTrace string
}

// NewFailureDetails builds FailureDetails from a message and stack trace, truncating the
// message to at most maxFailureMessageLength bytes on a rune boundary.
func NewFailureDetails(message, stackTrace string) FailureDetails {
	if len(message) > maxFailureMessageLength {
		n := maxFailureMessageLength
		for n > 0 && !utf8.RuneStart(message[n]) {
			n--
		}
		message = message[:n]
	}
	return FailureDetails{Message: message, StackTrace: stackTrace}
}

// Job is a unit of deferred work: a timer, an async continuation or a retry.
type Job struct {
	ID string
	// HandlerType selects the registered handler that runs the job.
	HandlerType string
	// HandlerConfig is opaque configuration passed to the handler.
	HandlerConfig string
	// CorrelationID is the execution or process instance the job serves.
	CorrelationID string
	Collection    Collection
	// DueDate is nil for jobs that are ready now.
	DueDate *time.Time
	// LockOwner and LockExpirationTime are set and cleared together.
	LockOwner          *string
	LockExpirationTime *time.Time
	// Retries is the remaining retry budget.
	Retries int
	// Exclusive jobs never run concurrently with another exclusive job of the same correlation.
	Exclusive bool
	// Repeat is a cron expression for repeating timers; empty for one-shot jobs.
	Repeat              string
	ExceptionMessage    string
	ExceptionStackTrace string
	TenantID            string
	CreateTime          time.Time
	Version             int
}

// NewJob returns an unlocked job with a fresh id.
func NewJob(collection Collection, handlerType, correlationID string, retries int, now time.Time) *Job {
	return &Job{
		ID:            uuid.NewString(),
		HandlerType:   handlerType,
		CorrelationID: correlationID,
		Collection:    collection,
		Retries:       retries,
		CreateTime:    now,
	}
}

// IsLocked reports whether the job holds a lock that has not expired at now.
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != nil && j.LockExpirationTime != nil && !j.LockExpirationTime.Before(now)
}

// IsLockExpired reports whether the job holds a lock that expired before now.
func (j *Job) IsLockExpired(now time.Time) bool {
	return j.LockExpirationTime != nil && j.LockExpirationTime.Before(now)
}

// IsLockedBy reports whether owner holds a live lock on the job.
func (j *Job) IsLockedBy(owner string, now time.Time) bool {
	return j.IsLocked(now) && *j.LockOwner == owner
}

// HeldBy reports whether owner is the recorded lock owner, whether or not the lock expired.
func (j *Job) HeldBy(owner string) bool {
	return j.LockOwner != nil && *j.LockOwner == owner
}

// IsDue reports whether the job may run at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.DueDate == nil || !j.DueDate.After(now)
}

// Lock sets both lock fields.
func (j *Job) Lock(owner string, until time.Time) {
	o := owner
	u := until
	j.LockOwner = &o
	j.LockExpirationTime = &u
}

// ClearLock clears both lock fields.
func (j *Job) ClearLock() {
	j.LockOwner = nil
	j.LockExpirationTime = nil
}

// RecordFailure stores the failure details on the job.
func (j *Job) RecordFailure(f FailureDetails) {
	j.ExceptionMessage = f.Message
	j.ExceptionStackTrace = f.StackTrace
}

// Failure returns the recorded failure details.
func (j *Job) Failure() FailureDetails {
	return FailureDetails{Message: j.ExceptionMessage, StackTrace: j.ExceptionStackTrace}
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.DueDate != nil {
		d := *j.DueDate
		c.DueDate = &d
	}
	if j.LockOwner != nil {
		o := *j.LockOwner
		c.LockOwner = &o
	}
	if j.LockExpirationTime != nil {
		e := *j.LockExpirationTime
		c.LockExpirationTime = &e
	}
	return &c
}

func (j *Job) String() string {
	return fmt.Sprintf("Job[id=%s, type=%s, correlation=%s, collection=%s, retries=%d]",
		j.ID, j.HandlerType, j.CorrelationID, j.Collection, j.Retries)
}
