package reminder

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/engine/job"
)

// Module contributes the reminder handler to the job handler registry.
var Module = fx.Options(
	fx.Provide(
		func() Deliverer { return LogDeliverer{} },
		fx.Annotate(NewHandler, fx.As(new(job.Handler)), fx.ResultTags(`group:"job_handlers"`)),
		NewService,
	),
)
