// Package bootstrap ties the engine into the fx application lifecycle: logging level,
// schema migrations, the async executor and the message-queue front end.
package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/component/migration"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "bootstrap"

// ApplyLoggingConfigHook applies the configured log level.
func ApplyLoggingConfigHook(cfg *config.Config) {
	if level := cfg.Riptide.System.Logging.Level; level != "" {
		logger.SetLogLevel(level)
		logger.Infof("Log level set to: %s", level)
	}
}

// ApplyTimezoneHook evaluates repeat expressions in riptide.system.timezone.
// Due dates are stored in UTC regardless.
func ApplyTimezoneHook(cfg config.SystemConfig) error {
	if cfg.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return exception.NewConfigurationError(moduleName, "unknown timezone '"+cfg.Timezone+"'", err)
	}
	job.SetRepeatLocation(loc)
	return nil
}

// MigrationHookParams are the dependencies of RunMigrationsHook.
type MigrationHookParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	StoreCfg  config.JobStoreConfig
	Migrator  *migration.SchemaMigrator `optional:"true"`
}

// RunMigrationsHook migrates the job store schema on start when auto_migrate is set.
func RunMigrationsHook(p MigrationHookParams) {
	if !p.StoreCfg.AutoMigrate {
		return
	}
	if p.Migrator == nil {
		logger.Warnf("riptide.job_store.auto_migrate is set but no schema migrator is installed. Skipping migrations.")
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Infof("Running job store migrations for datasource '%s'.", p.StoreCfg.DatasourceRef)
			return p.Migrator.Up(ctx)
		},
	})
}

// ExecutorHookParams are the dependencies of StartExecutorHook.
type ExecutorHookParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    config.AsyncExecutorConfig
	Executor  *asyncexecutor.AsyncExecutor
}

// StartExecutorHook starts the async executor with the application and shuts it down on stop.
func StartExecutorHook(p ExecutorHookParams) {
	if !p.Config.Enabled {
		logger.Infof("Async executor is disabled (riptide.async_executor.enabled=false).")
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: p.Executor.Start,
		OnStop:  p.Executor.Shutdown,
	})
}

// FrontEndHookParams are the dependencies of StartFrontEndHook.
type FrontEndHookParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    config.AsyncExecutorConfig
	FrontEnd  *messagequeue.FrontEnd `optional:"true"`
}

// StartFrontEndHook starts message-queue mode after the executor, so it stops first.
// It does nothing when message-queue mode is disabled.
func StartFrontEndHook(p FrontEndHookParams) {
	if p.FrontEnd == nil || !p.Config.Enabled {
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: p.FrontEnd.Start,
		OnStop:  p.FrontEnd.Stop,
	})
}
