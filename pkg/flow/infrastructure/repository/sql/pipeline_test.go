package sql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	sqlstore "github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/sql"
)

var errBusiness = errors.New("business failure")

func newPipeline(t *testing.T) (*command.Executor, *sqlstore.JobStore) {
	t.Helper()
	db := openSQLite(t)
	chain, err := command.NewChainBuilder().Add(
		command.NewLoggingInterceptor(nil, nil),
		command.NewTransactionInterceptor(gormadapter.NewGormTransactionManagerForDB(db)),
		command.NewContextInterceptor(),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	return command.NewExecutor(chain, command.DefaultConfig()), sqlstore.NewJobStoreForDB(db)
}

func newJob(correlation string) *model.Job {
	return model.NewJob(model.CollectionReady, "noop", correlation, 3, t0)
}

func TestPipeline_RollbackDiscardsWrites(t *testing.T) {
	exec, store := newPipeline(t)
	ctx := context.Background()
	j := newJob("rolled-back")

	_, err := command.Run(ctx, exec, "insert-then-fail", func(ctx context.Context, _ *command.Context) (struct{}, error) {
		if err := store.Insert(ctx, j); err != nil {
			return struct{}{}, err
		}
		_, err := store.FindByID(ctx, j.ID)
		require.NoError(t, err, "visible inside its own transaction")
		return struct{}{}, errBusiness
	})
	assert.ErrorIs(t, err, errBusiness)

	_, err = store.FindByID(ctx, j.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestPipeline_CommitPersists(t *testing.T) {
	exec, store := newPipeline(t)
	ctx := context.Background()
	j := newJob("committed")

	_, err := command.Run(ctx, exec, "insert", func(ctx context.Context, _ *command.Context) (struct{}, error) {
		return struct{}{}, store.Insert(ctx, j)
	})
	require.NoError(t, err)

	_, err = store.FindByID(ctx, j.ID)
	assert.NoError(t, err)
}

func TestPipeline_RequiresNewSurvivesOuterRollback(t *testing.T) {
	exec, store := newPipeline(t)
	ctx := context.Background()
	inner := newJob("inner")
	outer := newJob("outer")

	_, err := command.Run(ctx, exec, "outer", func(ctx context.Context, _ *command.Context) (struct{}, error) {
		_, err := command.RunWithConfig(ctx, exec, exec.DefaultConfig().RequiresNew(), "inner",
			func(ctx context.Context, _ *command.Context) (struct{}, error) {
				return struct{}{}, store.Insert(ctx, inner)
			})
		if err != nil {
			return struct{}{}, err
		}
		if err := store.Insert(ctx, outer); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errBusiness
	})
	assert.ErrorIs(t, err, errBusiness)

	_, err = store.FindByID(ctx, inner.ID)
	assert.NoError(t, err, "the inner transaction committed on its own")
	_, err = store.FindByID(ctx, outer.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestPipeline_NotSupportedRunsOutsideTransaction(t *testing.T) {
	exec, store := newPipeline(t)
	ctx := context.Background()
	maintenance := newJob("schema")

	_, err := command.Run(ctx, exec, "outer", func(ctx context.Context, _ *command.Context) (struct{}, error) {
		_, err := command.RunWithConfig(ctx, exec, exec.DefaultConfig().NotSupported(), "maintenance",
			func(ctx context.Context, cctx *command.Context) (struct{}, error) {
				_, inTx := cctx.Transaction()
				assert.False(t, inTx)
				return struct{}{}, store.Insert(ctx, maintenance)
			})
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errBusiness
	})
	assert.ErrorIs(t, err, errBusiness)

	_, err = store.FindByID(ctx, maintenance.ID)
	assert.NoError(t, err, "auto-committed work is not undone by the outer rollback")
}
