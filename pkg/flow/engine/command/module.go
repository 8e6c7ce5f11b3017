package command

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// PipelineParams are the dependencies of the standard pipeline.
type PipelineParams struct {
	fx.In
	Config           config.CommandConfig
	TxManager        tx.TransactionManager
	SessionFactories []SessionFactory      `group:"session_factories"`
	Recorder         metrics.MetricRecorder `optional:"true"`
	Tracer           metrics.Tracer         `optional:"true"`
	StateRenderer    StateRenderer          `optional:"true"`
}

// NewStandardChain builds the standard chain: logging (when enabled), transaction,
// command context, transaction context, then the invoker or debug invoker.
func NewStandardChain(p PipelineParams) (*Chain, error) {
	b := NewChainBuilder()
	if p.Config.LoggingEnabled {
		b.Add(NewLoggingInterceptor(p.Recorder, p.Tracer))
	}
	b.Add(
		NewTransactionInterceptor(p.TxManager),
		NewContextInterceptor(p.SessionFactories...),
		NewTransactionContextInterceptor(),
	)
	if p.Config.DebugInvoker {
		b.Add(NewDebugInvoker(p.StateRenderer))
	} else {
		b.Add(NewInvoker())
	}
	chain, err := b.Build()
	if err != nil {
		return nil, err
	}
	logger.Infof("Command pipeline: %v", chain.Describe())
	return chain, nil
}

// NewExecutorFromConfig creates the Executor with the configured default propagation.
func NewExecutorFromConfig(chain *Chain, cfg config.CommandConfig) (*Executor, error) {
	p, err := ParsePropagation(cfg.DefaultPropagation)
	if err != nil {
		return nil, err
	}
	return NewExecutor(chain, DefaultConfig().WithPropagation(p).WithLogging(cfg.LoggingEnabled)), nil
}

// Module provides the command pipeline and its Executor.
var Module = fx.Options(
	fx.Provide(NewStandardChain, NewExecutorFromConfig),
)
