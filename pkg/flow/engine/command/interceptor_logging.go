package command

import (
	"context"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// LoggingInterceptor observes command entry, exit and failure. It records
// command metrics and spans but never changes control flow.
type LoggingInterceptor struct {
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewLoggingInterceptor creates a LoggingInterceptor. Nil recorder or tracer disables them.
func NewLoggingInterceptor(recorder metrics.MetricRecorder, tracer metrics.Tracer) *LoggingInterceptor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &LoggingInterceptor{recorder: recorder, tracer: tracer}
}

func (i *LoggingInterceptor) Execute(ctx context.Context, cfg Config, cmd Command, next Next) (interface{}, error) {
	if !cfg.LoggingEnabled() {
		return next(ctx, cfg, cmd)
	}

	ctx, end := i.tracer.StartCommandSpan(ctx, cmd.Name(), string(cfg.Propagation()))
	start := time.Now()
	logger.Debugf("--- starting %s (%s) ---", cmd.Name(), cfg.Propagation())

	result, err := next(ctx, cfg, cmd)

	elapsed := time.Since(start)
	i.recorder.RecordCommand(ctx, cmd.Name(), elapsed, err)
	end(err)
	if err != nil {
		logger.Debugf("--- %s failed after %s: %v ---", cmd.Name(), elapsed, err)
		return nil, err
	}
	logger.Debugf("--- %s finished in %s ---", cmd.Name(), elapsed)
	return result, nil
}
