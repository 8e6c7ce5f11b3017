package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

type closeParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	DBProviders []database.DBProvider `group:"db_providers"`
}

// registerClose closes every pooled connection when the application stops.
func registerClose(p closeParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			for _, provider := range p.DBProviders {
				if err := provider.CloseAll(); err != nil {
					logger.Warnf("Failed to close %s connections: %v", provider.Type(), err)
				}
			}
			return nil
		},
	})
}

// Module provides the connection resolver. Driver providers come from the
// mysql, postgres and sqlite subpackages.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
	)),
	fx.Invoke(registerClose),
)
