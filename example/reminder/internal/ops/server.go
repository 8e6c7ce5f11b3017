package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/example/reminder/internal/reminder"
	"github.com/tigerroll/riptide/pkg/flow/component/archive"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// ServerParams are the dependencies of RegisterServer.
type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     config.SystemConfig
	Exposition metrics.Exposition
	Store      repository.JobStore
	Manager    *job.Manager
	Reminders  *reminder.Service
	Archiver   *archive.Archiver `optional:"true"`
}

// RegisterServer serves the ops router on riptide.system.ops.addr while the application runs.
func RegisterServer(p ServerParams) {
	if !p.Config.Ops.Enabled {
		return
	}
	srv := &http.Server{
		Addr: p.Config.Ops.Addr,
		Handler: NewRouter(Deps{
			Metrics:   p.Exposition.Handler,
			Store:     p.Store,
			Manager:   p.Manager,
			Reminders: p.Reminders,
			Archiver:  p.Archiver,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("ops server stopped: %v", err)
				}
			}()
			logger.Infof("Ops endpoint listening on %s.", ln.Addr())
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// Module starts the ops server.
var Module = fx.Options(
	fx.Invoke(RegisterServer),
)
