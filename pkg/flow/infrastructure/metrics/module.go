// Package metrics implements the engine's observability ports with Prometheus
// and OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Recorder names accepted by MetricsConfig.Recorder.
const (
	RecorderPrometheus = "prometheus"
	RecorderOTel       = "otel"
	RecorderNone       = "none"
)

// Exposition is the HTTP handler serving metrics for scraping.
// Handler is nil unless the Prometheus recorder is selected.
type Exposition struct {
	Handler http.Handler
}

// RecorderResult is the selected recorder and its scrape endpoint.
type RecorderResult struct {
	fx.Out
	Recorder   metrics.MetricRecorder
	Exposition Exposition
}

// NewRecorder selects the MetricRecorder named by cfg.Recorder.
func NewRecorder(lc fx.Lifecycle, cfg config.MetricsConfig, tracing config.TracingConfig) (RecorderResult, error) {
	switch cfg.Recorder {
	case RecorderPrometheus:
		r := NewPrometheusRecorder(cfg.Namespace)
		logger.Infof("Metrics: Prometheus recorder (namespace %q).", cfg.Namespace)
		return RecorderResult{Recorder: r, Exposition: Exposition{Handler: r.Handler()}}, nil

	case RecorderOTel:
		mp, err := NewMeterProvider(context.Background(), cfg, tracing.ServiceName)
		if err != nil {
			return RecorderResult{}, err
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return shutdownMeterProvider(ctx, mp) }})
		r, err := NewOTelRecorder(mp.Meter(instrumentationName))
		if err != nil {
			return RecorderResult{}, fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		logger.Infof("Metrics: OpenTelemetry recorder exporting over OTLP/%s.", protocolName(cfg.OTLP.Protocol))
		return RecorderResult{Recorder: r}, nil

	case RecorderNone, "":
		return RecorderResult{Recorder: metrics.NewNoOpMetricRecorder()}, nil

	default:
		return RecorderResult{}, exception.NewConfigurationError("metrics", fmt.Sprintf("unknown metric recorder %q", cfg.Recorder), nil)
	}
}

// NewTracer returns an OTelTracer exporting over OTLP when tracing is enabled,
// and a no-op tracer otherwise.
func NewTracer(lc fx.Lifecycle, cfg config.TracingConfig) (metrics.Tracer, error) {
	if !cfg.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	tp, err := NewTracerProvider(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return shutdownTracerProvider(ctx, tp) }})
	logger.Infof("Tracing: exporting spans over OTLP/%s.", protocolName(cfg.OTLP.Protocol))
	return NewOTelTracer(tp), nil
}

func shutdownMeterProvider(ctx context.Context, mp *sdkmetric.MeterProvider) error {
	if err := mp.Shutdown(ctx); err != nil {
		logger.Warnf("Metrics: meter provider shutdown failed: %v", err)
	}
	return nil
}

func shutdownTracerProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warnf("Tracing: tracer provider shutdown failed: %v", err)
	}
	return nil
}

func protocolName(p string) string {
	if p == "" {
		return ProtocolGRPC
	}
	return p
}

// Module provides the MetricRecorder, its Exposition and the Tracer.
var Module = fx.Options(
	fx.Provide(NewRecorder, NewTracer),
)
