package messagequeue

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
)

// FrontEndParams are the dependencies of the FrontEnd.
type FrontEndParams struct {
	fx.In
	Config        config.MessageQueueConfig
	AsyncExecutor config.AsyncExecutorConfig
	Transport     Transport `optional:"true"`
	Executor      *command.Executor
	Store         repository.JobStore
	Manager       *job.Manager
	Async         *asyncexecutor.AsyncExecutor
	Clock         clock.Clock
}

// NewFrontEndFromParams returns nil when message-queue mode is disabled.
func NewFrontEndFromParams(p FrontEndParams) *FrontEnd {
	if !p.Config.Enabled || p.Transport == nil {
		return nil
	}
	return NewFrontEnd(p.Transport, p.Executor, p.Store, p.Manager, p.Async, p.Clock, p.AsyncExecutor.QueueFullWait)
}

// Module provides the FrontEnd. The Transport comes from infrastructure/messaging.
var Module = fx.Options(
	fx.Provide(NewFrontEndFromParams),
)
