package job

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
)

// RegistryParams collects the handlers contributed to the "job_handlers" group.
type RegistryParams struct {
	fx.In
	Handlers []Handler `group:"job_handlers"`
}

// NewRegistryFromParams builds the registry from the contributed handlers.
func NewRegistryFromParams(p RegistryParams) (*Registry, error) {
	return NewRegistry(p.Handlers...)
}

// ManagerParams are the dependencies of the Manager.
type ManagerParams struct {
	fx.In
	Executor *command.Executor
	Store    repository.JobStore
	Registry *Registry
	Config   config.AsyncExecutorConfig
	Clock    clock.Clock `optional:"true"`
}

// NewManagerFromParams creates the Manager with the configured retry budget.
func NewManagerFromParams(p ManagerParams) *Manager {
	return NewManager(p.Executor, p.Store, p.Registry, p.Clock, p.Config.Retry.Retries)
}

// BuiltinParams are the dependencies of the built-in handlers.
type BuiltinParams struct {
	fx.In
	Manager   *Manager
	Execution ExecutionService `optional:"true"`
}

// RegisterBuiltinHandlers registers the built-in handlers when an ExecutionService is provided.
func RegisterBuiltinHandlers(p BuiltinParams) error {
	if p.Execution == nil {
		return nil
	}
	for _, h := range BuiltinHandlers(p.Execution, p.Manager) {
		if err := p.Manager.Registry().Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Module provides the registry, the job session factory and the Manager.
var Module = fx.Options(
	fx.Provide(
		NewRegistryFromParams,
		fx.Annotate(NewSessionFactory, fx.As(new(command.SessionFactory)), fx.ResultTags(`group:"session_factories"`)),
		NewManagerFromParams,
	),
	fx.Invoke(RegisterBuiltinHandlers),
)
