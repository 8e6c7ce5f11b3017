// Package sql provides the gorm-backed Job Store.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

const module = "job_store"

var acquirableCollections = []string{string(model.CollectionTimer), string(model.CollectionReady)}

// JobStore implements repository.JobStore on a single gorm table.
// Statements run in the transaction found on the context, if any.
type JobStore struct {
	base func(ctx context.Context) (*gorm.DB, error)
}

// NewJobStore creates a JobStore on the datasource dbName.
func NewJobStore(resolver database.DBConnectionResolver, dbName string) *JobStore {
	return &JobStore{base: func(ctx context.Context) (*gorm.DB, error) {
		conn, err := resolver.ResolveDBConnection(ctx, dbName)
		if err != nil {
			return nil, err
		}
		gc, ok := conn.(gormadapter.Connection)
		if !ok {
			return nil, fmt.Errorf("datasource '%s' is not backed by gorm (%T)", dbName, conn)
		}
		return gc.GormDB(), nil
	}}
}

// NewJobStoreForDB creates a JobStore on db.
func NewJobStoreForDB(db *gorm.DB) *JobStore {
	return &JobStore{base: func(context.Context) (*gorm.DB, error) { return db, nil }}
}

func (s *JobStore) db(ctx context.Context) (*gorm.DB, error) {
	if t, ok := tx.FromContext(ctx); ok {
		gc, ok := t.(gormadapter.Connection)
		if !ok {
			return nil, exception.NewConfigurationError(module, fmt.Sprintf("transaction %s is not a gorm transaction (%T)", t.ID(), t), nil)
		}
		return gc.GormDB().WithContext(ctx), nil
	}
	db, err := s.base(ctx)
	if err != nil {
		return nil, exception.NewFlowError(module, "failed to resolve job store connection", err, true)
	}
	return db.WithContext(ctx), nil
}

// atomically runs fn in the context's transaction, or in a local one when there is none.
func (s *JobStore) atomically(ctx context.Context, fn func(db *gorm.DB) error) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	if _, ok := tx.FromContext(ctx); ok {
		return fn(db)
	}
	return db.Transaction(fn)
}

func dbError(op string, err error) error {
	return exception.NewFlowError(module, op, err, true)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
}

// unlocked is the lock-field part of every update that releases a job.
func unlocked(values map[string]interface{}) map[string]interface{} {
	values["lock_owner"] = nil
	values["lock_expiration_time"] = nil
	values["version"] = gorm.Expr("version + 1")
	return values
}

// updateByID applies values to the job and reports ErrJobNotFound when no row matched.
// The version bump keeps RowsAffected meaningful on MySQL, which counts changed rows only.
func (s *JobStore) updateByID(ctx context.Context, op, id string, values map[string]interface{}) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&JobEntity{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return dbError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *JobStore) Insert(ctx context.Context, job *model.Job) error {
	if !job.Collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", repository.ErrInvalidTransition, job.Collection)
	}
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(fromDomainJob(job)).Error; err != nil {
		return dbError(fmt.Sprintf("failed to insert job %s", job.ID), err)
	}
	return nil
}

func (s *JobStore) FindByID(ctx context.Context, id string) (*model.Job, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	var e JobEntity
	if err := db.Where("id = ?", id).Take(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, dbError(fmt.Sprintf("failed to load job %s", id), err)
	}
	return toDomainJob(&e), nil
}

func (s *JobStore) SelectDueJobs(ctx context.Context, query repository.DueJobQuery) ([]*model.Job, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	now := dbTime(query.Now)
	q := db.Where("collection = ?", string(query.Collection)).
		Where("due_date IS NULL OR due_date <= ?", now).
		Where("lock_expiration_time IS NULL OR lock_expiration_time < ?", now)

	if query.ExcludeExclusiveLockedCorrelations {
		locked := db.Session(&gorm.Session{NewDB: true}).Model(&JobEntity{}).
			Select("correlation_id").
			Where("is_exclusive = ? AND correlation_id <> '' AND lock_expiration_time >= ?", true, now)
		q = q.Where("is_exclusive = ? OR correlation_id NOT IN (?)", false, locked)
	}

	q = q.Order("COALESCE(due_date, create_time) ASC").Order("id ASC")
	if query.MaxCount > 0 {
		q = q.Limit(query.MaxCount)
	}
	var entities []JobEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, dbError("failed to select due jobs", err)
	}
	return toDomainJobs(entities), nil
}

// TryLock is a conditional update; losing the race to another acquirer matches no row.
func (s *JobStore) TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return false, err
	}
	result := db.Model(&JobEntity{}).
		Where("id = ? AND collection IN ?", id, acquirableCollections).
		Where("lock_owner IS NULL OR lock_expiration_time < ?", dbTime(now)).
		Updates(map[string]interface{}{
			"lock_owner":           owner,
			"lock_expiration_time": dbTime(until),
			"version":              gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, dbError(fmt.Sprintf("failed to lock job %s", id), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *JobStore) Unlock(ctx context.Context, id string) error {
	return s.updateByID(ctx, fmt.Sprintf("failed to unlock job %s", id), id, unlocked(map[string]interface{}{}))
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	result := db.Where("id = ?", id).Delete(&JobEntity{})
	if result.Error != nil {
		return dbError(fmt.Sprintf("failed to delete job %s", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *JobStore) MoveToDeadLetter(ctx context.Context, id string, failure model.FailureDetails) error {
	return s.updateByID(ctx, fmt.Sprintf("failed to dead-letter job %s", id), id, unlocked(map[string]interface{}{
		"collection":            string(model.CollectionDeadLetter),
		"retries":               0,
		"exception_message":     failure.Message,
		"exception_stack_trace": failure.StackTrace,
	}))
}

func (s *JobStore) SelectExpiredLocks(ctx context.Context, now time.Time, pageSize int) ([]*model.Job, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where("lock_expiration_time < ?", dbTime(now)).Order("lock_expiration_time ASC").Order("id ASC")
	if pageSize > 0 {
		q = q.Limit(pageSize)
	}
	var entities []JobEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, dbError("failed to select expired locks", err)
	}
	return toDomainJobs(entities), nil
}

func (s *JobStore) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return false, err
	}
	result := db.Model(&JobEntity{}).
		Where("id = ? AND lock_expiration_time < ?", id, dbTime(now)).
		Updates(unlocked(map[string]interface{}{}))
	if result.Error != nil {
		return false, dbError(fmt.Sprintf("failed to clear expired lock of job %s", id), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *JobStore) UpdateRetry(ctx context.Context, id string, u repository.RetryUpdate) error {
	return s.updateByID(ctx, fmt.Sprintf("failed to record retry of job %s", id), id, unlocked(map[string]interface{}{
		"retries":               u.Retries,
		"due_date":              dbTimePtr(u.DueDate),
		"exception_message":     u.Failure.Message,
		"exception_stack_trace": u.Failure.StackTrace,
	}))
}

func (s *JobStore) Reschedule(ctx context.Context, id string, dueDate time.Time) error {
	toTimer := gorm.Expr("CASE WHEN collection = ? THEN ? ELSE collection END",
		string(model.CollectionReady), string(model.CollectionTimer))
	return s.updateByID(ctx, fmt.Sprintf("failed to reschedule job %s", id), id, unlocked(map[string]interface{}{
		"due_date":   dbTime(dueDate),
		"collection": toTimer,
	}))
}

func (s *JobStore) PromoteTimer(ctx context.Context, id, owner string) (bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return false, err
	}
	result := db.Model(&JobEntity{}).
		Where("id = ? AND collection = ? AND lock_owner = ?", id, string(model.CollectionTimer), owner).
		Updates(map[string]interface{}{
			"collection": string(model.CollectionReady),
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, dbError(fmt.Sprintf("failed to promote timer %s", id), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *JobStore) MoveToCollection(ctx context.Context, id string, from, to model.Collection) error {
	if from == to || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&JobEntity{}).
		Where("id = ? AND collection = ?", id, string(from)).
		Updates(unlocked(map[string]interface{}{"collection": string(to)}))
	if result.Error != nil {
		return dbError(fmt.Sprintf("failed to move job %s", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s in %s", repository.ErrJobNotFound, id, from)
	}
	return nil
}

func (s *JobStore) MoveByCorrelation(ctx context.Context, correlationID string, from, to model.Collection) ([]*model.Job, error) {
	if from == to || !to.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	var moved []*model.Job
	err := s.atomically(ctx, func(db *gorm.DB) error {
		var entities []JobEntity
		if err := db.Where("correlation_id = ? AND collection = ?", correlationID, string(from)).
			Order("id ASC").Find(&entities).Error; err != nil {
			return dbError("failed to select correlated jobs", err)
		}
		if len(entities) == 0 {
			return nil
		}
		ids := make([]string, len(entities))
		for i := range entities {
			ids[i] = entities[i].ID
		}
		if err := db.Session(&gorm.Session{NewDB: true}).Model(&JobEntity{}).
			Where("id IN ? AND collection = ?", ids, string(from)).
			Updates(unlocked(map[string]interface{}{"collection": string(to)})).Error; err != nil {
			return dbError(fmt.Sprintf("failed to move jobs of %s", correlationID), err)
		}
		for i := range entities {
			j := toDomainJob(&entities[i])
			j.Collection = to
			j.ClearLock()
			j.Version++
			moved = append(moved, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *JobStore) FindByCollection(ctx context.Context, collection model.Collection, offset, limit int) ([]*model.Job, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where("collection = ?", string(collection)).Order("create_time ASC").Order("id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []JobEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, dbError("failed to page collection", err)
	}
	return toDomainJobs(entities), nil
}

func (s *JobStore) CountByCollection(ctx context.Context, collection model.Collection) (int64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&JobEntity{}).Where("collection = ?", string(collection)).Count(&n).Error; err != nil {
		return 0, dbError("failed to count collection", err)
	}
	return n, nil
}

var _ repository.JobStore = (*JobStore)(nil)
