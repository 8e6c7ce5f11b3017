// Package app assembles the reminder service from the riptide modules.
package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/example/reminder/internal/ops"
	"github.com/tigerroll/riptide/example/reminder/internal/reminder"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm/mysql"
	"github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm/postgres"
	"github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm/sqlite"
	"github.com/tigerroll/riptide/pkg/flow/component/archive"
	"github.com/tigerroll/riptide/pkg/flow/component/migration"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/config/bootstrap"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/messaging"
	inframetrics "github.com/tigerroll/riptide/pkg/flow/infrastructure/metrics"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository"
	listenerlogging "github.com/tigerroll/riptide/pkg/flow/listener/logging"
	listenermetrics "github.com/tigerroll/riptide/pkg/flow/listener/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Modules lists every module of the reminder service.
func Modules() fx.Option {
	return fx.Options(
		logger.Module,
		config.Module,

		// Datasources and the job store.
		gormadapter.Module,
		postgres.Module,
		mysql.Module,
		sqlite.Module,
		repository.Module,
		migration.Module,

		// Observability.
		inframetrics.Module,
		listenermetrics.Module,

		// Engine.
		command.Module,
		job.Module,
		listenerlogging.Module,
		asyncexecutor.Module,
		messaging.Module,
		messagequeue.Module,
		archive.Module,

		// Application.
		reminder.Module,
		ops.Module,
		bootstrap.Module,
	)
}

// RunApplication runs the reminder service until appCtx is cancelled.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig []byte) error {
	app := fx.New(
		fx.Supply(
			config.EmbeddedConfig(embeddedConfig),
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		Modules(),
	)

	if err := app.Start(appCtx); err != nil {
		return err
	}
	<-appCtx.Done()
	logger.Infof("Shutting down the reminder service.")

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}
