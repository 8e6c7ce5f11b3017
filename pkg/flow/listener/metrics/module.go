package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// NewAsyncMetricRecorderWrapper decorates the provided recorder with an AsyncMetricRecorder
// when metrics.async_buffer_size is positive, and closes it on stop.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg config.MetricsConfig, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	if cfg.AsyncBufferSize <= 0 {
		return syncRecorder
	}
	asyncRecorder := NewAsyncMetricRecorder(cfg.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}

// Module decorates the MetricRecorder provided by infrastructure/metrics.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
)
