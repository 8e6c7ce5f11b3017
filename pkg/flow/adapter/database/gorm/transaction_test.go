package gorm_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm/sqlite"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
)

type note struct {
	ID   int64  `gorm:"primaryKey"`
	Body string `gorm:"column:body"`
}

func newResolver(t *testing.T) (*gormadapter.GormDBConnectionResolver, database.DBProvider) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Riptide.Datasources = map[string]interface{}{
		"main": map[string]interface{}{
			"type":     "sqlite",
			"database": filepath.Join(t.TempDir(), "main.db"),
		},
	}
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	return gormadapter.NewGormDBConnectionResolver(gormadapter.ResolverParams{
		DBProviders: []database.DBProvider{provider},
		Cfg:         cfg,
	}), provider
}

func TestResolveDBConnection(t *testing.T) {
	resolver, _ := newResolver(t)

	conn, err := resolver.ResolveDBConnection(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conn.Type())
	assert.Equal(t, "main", conn.Name())

	again, err := resolver.ResolveDBConnection(context.Background(), "main")
	require.NoError(t, err)
	assert.Same(t, conn, again, "connections are cached per name")

	_, err = resolver.ResolveDBConnection(context.Background(), "missing")
	assert.Error(t, err)
}

func TestResolveDBConnection_ReconnectsClosedPool(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	conn, err := resolver.ResolveDBConnection(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	reopened, err := resolver.ResolveDBConnection(ctx, "main")
	require.NoError(t, err)
	assert.NotSame(t, conn, reopened)
	assert.NoError(t, reopened.RefreshConnection(ctx))
}

func TestGormTransactionManager(t *testing.T) {
	resolver, _ := newResolver(t)
	ctx := context.Background()

	conn, err := resolver.ResolveDBConnection(ctx, "main")
	require.NoError(t, err)
	db := conn.(gormadapter.Connection).GormDB()
	require.NoError(t, db.AutoMigrate(&note{}))

	tm := gormadapter.NewGormTransactionManager(resolver, "main")

	t.Run("commit persists", func(t *testing.T) {
		txn, err := tm.Begin(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, txn.ID())

		n, err := txn.ExecuteUpdate(ctx, &note{ID: 1, Body: "kept"}, tx.OperationCreate, "", nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		require.NoError(t, tm.Commit(txn))

		var count int64
		require.NoError(t, db.Model(&note{}).Where("id = ?", 1).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("rollback discards", func(t *testing.T) {
		txn, err := tm.Begin(ctx)
		require.NoError(t, err)
		_, err = txn.ExecuteUpdate(ctx, &note{ID: 2, Body: "dropped"}, tx.OperationCreate, "", nil)
		require.NoError(t, err)
		require.NoError(t, tm.Rollback(txn))

		var count int64
		require.NoError(t, db.Model(&note{}).Where("id = ?", 2).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("conditional update reports affected rows", func(t *testing.T) {
		txn, err := tm.Begin(ctx)
		require.NoError(t, err)
		n, err := txn.ExecuteUpdate(ctx, map[string]interface{}{"body": "edited"}, tx.OperationUpdate, "notes", map[string]interface{}{"id": 1})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		n, err = txn.ExecuteUpdate(ctx, map[string]interface{}{"body": "edited"}, tx.OperationUpdate, "notes", map[string]interface{}{"id": 99})
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, tm.Commit(txn))
	})

	t.Run("foreign tx is rejected", func(t *testing.T) {
		assert.Error(t, tm.Commit(foreignTx{}))
	})
}

func TestIsTableNotExistError(t *testing.T) {
	resolver, _ := newResolver(t)
	conn, err := resolver.ResolveDBConnection(context.Background(), "main")
	require.NoError(t, err)

	err = conn.(gormadapter.Connection).GormDB().Exec("SELECT * FROM nowhere").Error
	require.Error(t, err)
	assert.True(t, conn.IsTableNotExistError(err))
	assert.False(t, conn.IsTableNotExistError(nil))
}

type foreignTx struct{}

func (foreignTx) ExecuteUpdate(context.Context, interface{}, string, string, map[string]interface{}) (int64, error) {
	return 0, nil
}
func (foreignTx) ID() string { return "foreign" }
