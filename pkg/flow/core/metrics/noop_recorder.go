package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
)

// NoOpMetricRecorder discards every metric.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordCommand(context.Context, string, time.Duration, error) {}
func (r *NoOpMetricRecorder) RecordJobsAcquired(context.Context, string, int) {}
func (r *NoOpMetricRecorder) RecordLockRaceLost(context.Context, string) {}
func (r *NoOpMetricRecorder) RecordJobExecuted(context.Context, string, time.Duration, string) {}
func (r *NoOpMetricRecorder) RecordLocksReclaimed(context.Context, int) {}
func (r *NoOpMetricRecorder) RecordQueueDepth(context.Context, int) {}

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartCommandSpan(ctx context.Context, _ string, _ string) (context.Context, EndFunc) {
	return ctx, func(error) {}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.Job) (context.Context, EndFunc) {
	return ctx, func(error) {}
}

var (
	_ MetricRecorder = (*NoOpMetricRecorder)(nil)
	_ Tracer         = (*NoOpTracer)(nil)
)
