package migration

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
)

// SchemaMigratorParams are the dependencies of NewSchemaMigratorFromParams.
type SchemaMigratorParams struct {
	fx.In
	Cfg         *config.Config
	StoreCfg    config.JobStoreConfig
	Exec        *command.Executor
	DBProviders []database.DBProvider `group:"db_providers"`
}

// NewSchemaMigratorFromParams adapts NewSchemaMigrator to fx.
func NewSchemaMigratorFromParams(p SchemaMigratorParams) *SchemaMigrator {
	return NewSchemaMigrator(p.Cfg, p.StoreCfg, p.Exec, p.DBProviders)
}

// Module provides the SchemaMigrator. The bootstrap runs it on start when
// riptide.job_store.auto_migrate is set.
var Module = fx.Options(
	fx.Provide(NewSchemaMigratorFromParams),
)
