package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "migration"

// DefaultMigrationsTable is used when JobStoreConfig.MigrationsTable is empty.
const DefaultMigrationsTable = "riptide_schema_migrations"

// SchemaMigrator brings the job store datasource to the latest schema.
// Each run goes through the command pipeline outside any transaction.
type SchemaMigrator struct {
	cfg         *config.Config
	storeCfg    config.JobStoreConfig
	exec        *command.Executor
	providers   map[string]database.DBProvider
	migrationFS fs.FS
	newMigrator func(database.DBConnection) Migrator
}

// NewSchemaMigrator creates a SchemaMigrator over the embedded migrations.
func NewSchemaMigrator(cfg *config.Config, storeCfg config.JobStoreConfig, exec *command.Executor, providers []database.DBProvider) *SchemaMigrator {
	byType := make(map[string]database.DBProvider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}
	return &SchemaMigrator{
		cfg:         cfg,
		storeCfg:    storeCfg,
		exec:        exec,
		providers:   byType,
		migrationFS: MigrationsFS(),
		newMigrator: NewMigrator,
	}
}

// Up applies pending migrations. It is a no-op for the in-memory store.
func (s *SchemaMigrator) Up(ctx context.Context) error {
	return s.run(ctx, "schema-migrate-up", func(ctx context.Context, m Migrator, dir, table string) error {
		return m.Up(ctx, s.migrationFS, dir, table)
	})
}

// Down reverts every migration, dropping the job table.
func (s *SchemaMigrator) Down(ctx context.Context) error {
	return s.run(ctx, "schema-migrate-down", func(ctx context.Context, m Migrator, dir, table string) error {
		return m.Down(ctx, s.migrationFS, dir, table)
	})
}

func (s *SchemaMigrator) run(ctx context.Context, name string, apply func(ctx context.Context, m Migrator, dir, table string) error) error {
	ref := s.storeCfg.DatasourceRef
	dbConfig, err := dbconfig.Lookup(s.cfg.Riptide.Datasources, ref)
	if err != nil {
		return exception.NewConfigurationError(moduleName, "job store datasource is not usable", err)
	}
	if dbConfig.Type == dbconfig.TypeDummy {
		logger.Infof("Datasource '%s' is '%s'. Skipping schema migration.", ref, dbconfig.TypeDummy)
		return nil
	}
	provider, ok := s.providers[dbConfig.Type]
	if !ok {
		return exception.NewConfigurationError(moduleName, "no database provider for type '"+dbConfig.Type+"'", nil)
	}
	table := s.storeCfg.MigrationsTable
	if table == "" {
		table = DefaultMigrationsTable
	}

	_, err = command.RunWithConfig(ctx, s.exec, s.exec.DefaultConfig().NotSupported(), name,
		func(ctx context.Context, _ *command.Context) (struct{}, error) {
			conn, err := provider.ForceReconnect(ref)
			if err != nil {
				return struct{}{}, exception.NewFlowError(moduleName, "failed to connect before migration", err, true)
			}
			if err := apply(ctx, s.newMigrator(conn), conn.Type(), table); err != nil {
				return struct{}{}, exception.NewFlowError(moduleName, "schema migration failed", err, false)
			}
			// golang-migrate closed the pool; reopen it for the job store.
			if _, err := provider.ForceReconnect(ref); err != nil {
				return struct{}{}, exception.NewFlowError(moduleName, "failed to reconnect after migration", err, true)
			}
			return struct{}{}, nil
		})
	return err
}
