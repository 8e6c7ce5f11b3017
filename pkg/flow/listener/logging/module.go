package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
)

// ListenerParams are the dependencies of RegisterJobListener.
type ListenerParams struct {
	fx.In
	Manager *job.Manager
	Clock   clock.Clock `optional:"true"`
}

// RegisterJobListener registers a JobListener with the job manager.
func RegisterJobListener(p ListenerParams) {
	p.Manager.AddNotifier(NewJobListener(p.Clock))
}

// Module registers the logging job listener.
var Module = fx.Options(
	fx.Invoke(RegisterJobListener),
)
