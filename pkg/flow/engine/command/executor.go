package command

import (
	"context"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// Executor is the entry point of the command pipeline. It holds no retry logic.
type Executor struct {
	chain         *Chain
	defaultConfig Config
}

// NewExecutor creates an Executor entering chain with defaultConfig for Execute.
func NewExecutor(chain *Chain, defaultConfig Config) *Executor {
	return &Executor{chain: chain, defaultConfig: defaultConfig}
}

// DefaultConfig returns the configuration used by Execute.
func (e *Executor) DefaultConfig() Config {
	return e.defaultConfig
}

// Execute runs cmd with the default configuration.
func (e *Executor) Execute(ctx context.Context, cmd Command) (interface{}, error) {
	return e.ExecuteWithConfig(ctx, e.defaultConfig, cmd)
}

// ExecuteWithConfig runs cmd with cfg and returns whatever the chain returns.
func (e *Executor) ExecuteWithConfig(ctx context.Context, cfg Config, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, exception.NewFlowError(moduleName, "command must not be nil", nil, false)
	}
	return e.chain.Execute(ctx, cfg, cmd)
}

// Chain returns the interceptor chain.
func (e *Executor) Chain() *Chain {
	return e.chain
}
