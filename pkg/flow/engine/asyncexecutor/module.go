package asyncexecutor

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/retry"
)

// ExecutorParams are the dependencies of the AsyncExecutor.
type ExecutorParams struct {
	fx.In
	Config       config.AsyncExecutorConfig
	MessageQueue config.MessageQueueConfig
	Executor     *command.Executor
	Store        repository.JobStore
	Manager      *job.Manager
	Policy       *retry.Policy
	Clock        clock.Clock
	Recorder     metrics.MetricRecorder `optional:"true"`
	Tracer       metrics.Tracer         `optional:"true"`
}

// NewFromParams creates the AsyncExecutor. Message-queue mode disables the acquisition loops.
func NewFromParams(p ExecutorParams) (*AsyncExecutor, error) {
	return New(Options{
		Config:             p.Config,
		Executor:           p.Executor,
		Store:              p.Store,
		Manager:            p.Manager,
		Policy:             p.Policy,
		Clock:              p.Clock,
		Recorder:           p.Recorder,
		Tracer:             p.Tracer,
		DisableAcquisition: p.MessageQueue.Enabled,
	})
}

func newPolicy(cfg config.AsyncExecutorConfig) (*retry.Policy, error) {
	return retry.NewPolicy(cfg.Retry)
}

// Module provides the retry policy, the system clock and the AsyncExecutor.
// Starting and stopping it is left to the bootstrap lifecycle hooks.
var Module = fx.Options(
	fx.Provide(
		newPolicy,
		clock.NewSystem,
		NewFromParams,
	),
)
