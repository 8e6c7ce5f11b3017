package sql_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	sqlstore "github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/sql"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/test"
)

func setupGormMock(t *testing.T) (*sqlstore.JobStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	})
	return sqlstore.NewJobStoreForDB(db), mock
}

var lockUpdate = regexp.QuoteMeta("UPDATE `riptide_job` SET")

func TestTryLock_ConditionalUpdate(t *testing.T) {
	s, mock := setupGormMock(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(lockUpdate + ".*lock_owner IS NULL OR lock_expiration_time <").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.TryLock(context.Background(), "job-1", "node-a", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(lockUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.TryLock(context.Background(), "job-1", "node-b", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok, "no matching row means another acquirer holds the lock")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLock_DatabaseErrorIsRetryable(t *testing.T) {
	s, mock := setupGormMock(t)
	now := time.Now()

	mock.ExpectExec(lockUpdate).WillReturnError(errors.New("connection reset by peer"))
	_, err := s.TryLock(context.Background(), "job-1", "node-a", now.Add(time.Minute), now)
	require.Error(t, err)
	assert.True(t, exception.IsTemporary(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NoRow(t *testing.T) {
	s, mock := setupGormMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `riptide_job` WHERE id = ?")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := s.FindByID(context.Background(), "job-1")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForeignTransactionIsAConfigurationError(t *testing.T) {
	s, mock := setupGormMock(t)
	ctx := tx.WithTx(context.Background(), test.NewMockTx("foreign"))

	_, err := s.FindByID(ctx, "job-1")
	assert.True(t, exception.IsConfigurationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
