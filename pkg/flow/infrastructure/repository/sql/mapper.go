package sql

import (
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
)

// dbTime normalizes times to UTC at microsecond precision, the common
// denominator of the supported databases.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

func fromDomainJob(j *model.Job) *JobEntity {
	if j == nil {
		return nil
	}
	e := &JobEntity{
		ID:                  j.ID,
		HandlerType:         j.HandlerType,
		HandlerConfig:       j.HandlerConfig,
		CorrelationID:       j.CorrelationID,
		Collection:          string(j.Collection),
		DueDate:             dbTimePtr(j.DueDate),
		LockExpirationTime:  dbTimePtr(j.LockExpirationTime),
		Retries:             j.Retries,
		Exclusive:           j.Exclusive,
		Repeat:              j.Repeat,
		ExceptionMessage:    j.ExceptionMessage,
		ExceptionStackTrace: j.ExceptionStackTrace,
		TenantID:            j.TenantID,
		CreateTime:          dbTime(j.CreateTime),
		Version:             j.Version,
	}
	if j.LockOwner != nil {
		o := *j.LockOwner
		e.LockOwner = &o
	}
	return e
}

func toDomainJob(e *JobEntity) *model.Job {
	if e == nil {
		return nil
	}
	j := &model.Job{
		ID:                  e.ID,
		HandlerType:         e.HandlerType,
		HandlerConfig:       e.HandlerConfig,
		CorrelationID:       e.CorrelationID,
		Collection:          model.Collection(e.Collection),
		DueDate:             utcPtr(e.DueDate),
		LockOwner:           e.LockOwner,
		LockExpirationTime:  utcPtr(e.LockExpirationTime),
		Retries:             e.Retries,
		Exclusive:           e.Exclusive,
		Repeat:              e.Repeat,
		ExceptionMessage:    e.ExceptionMessage,
		ExceptionStackTrace: e.ExceptionStackTrace,
		TenantID:            e.TenantID,
		CreateTime:          e.CreateTime.UTC(),
		Version:             e.Version,
	}
	return j
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toDomainJobs(entities []JobEntity) []*model.Job {
	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs
}
