package migration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm/sqlite"
	"github.com/tigerroll/riptide/pkg/flow/component/migration"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
	sqlstore "github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/sql"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

func newExecutor(t *testing.T) *command.Executor {
	t.Helper()
	chain, err := command.NewChainBuilder().Add(
		command.NewTransactionInterceptor(inmemory.NewTxManager()),
		command.NewContextInterceptor(),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	return command.NewExecutor(chain, command.DefaultConfig())
}

func newMigrator(t *testing.T, datasource map[string]interface{}) (*migration.SchemaMigrator, database.DBProvider) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Riptide.Datasources = map[string]interface{}{"jobstore": datasource}
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	m := migration.NewSchemaMigrator(cfg, cfg.Riptide.JobStore, newExecutor(t), []database.DBProvider{provider})
	return m, provider
}

func jobStore(t *testing.T, provider database.DBProvider) *sqlstore.JobStore {
	t.Helper()
	conn, err := provider.GetConnection("jobstore")
	require.NoError(t, err)
	return sqlstore.NewJobStoreForDB(conn.(gormadapter.Connection).GormDB())
}

func TestSchemaMigrator_UpCreatesJobTable(t *testing.T) {
	m, provider := newMigrator(t, map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "jobs.db"),
	})
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "already at the latest version")

	store := jobStore(t, provider)
	j := model.NewJob(model.CollectionReady, "noop", "c1", 3, t0)
	j.Exclusive = true
	require.NoError(t, store.Insert(ctx, j))
	got, err := store.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, got.Exclusive)

	conn, err := provider.GetConnection("jobstore")
	require.NoError(t, err)
	migrator := conn.(gormadapter.Connection).GormDB().Migrator()
	assert.True(t, migrator.HasTable(migration.DefaultMigrationsTable))
	assert.True(t, migrator.HasIndex(sqlstore.TableName, "idx_riptide_job_due"))
}

func TestSchemaMigrator_DownDropsJobTable(t *testing.T) {
	m, provider := newMigrator(t, map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "jobs.db"),
	})
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))

	conn, err := provider.GetConnection("jobstore")
	require.NoError(t, err)
	assert.False(t, conn.(gormadapter.Connection).GormDB().Migrator().HasTable(sqlstore.TableName))
}

func TestSchemaMigrator_SkipsDummyDatasource(t *testing.T) {
	m, _ := newMigrator(t, map[string]interface{}{"type": "dummy"})
	assert.NoError(t, m.Up(context.Background()))
}

func TestSchemaMigrator_UnknownProvider(t *testing.T) {
	m, _ := newMigrator(t, map[string]interface{}{"type": "postgres", "host": "localhost"})
	err := m.Up(context.Background())
	assert.True(t, exception.IsConfigurationError(err))
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
