package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
)

// instrumentationName is the OpenTelemetry scope of the engine's meters and tracers.
const instrumentationName = "github.com/tigerroll/riptide"

// OTelRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OTelRecorder struct {
	commandDuration metric.Float64Histogram
	jobsAcquired    metric.Int64Counter
	lockRaceLost    metric.Int64Counter
	jobDuration     metric.Float64Histogram
	locksReclaimed  metric.Int64Counter
	queueDepth      metric.Int64Gauge
}

// NewOTelRecorder creates the instruments on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error
	if r.commandDuration, err = meter.Float64Histogram("riptide.command.duration",
		metric.WithDescription("Time spent in the command pipeline, commit included."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.jobsAcquired, err = meter.Int64Counter("riptide.jobs.acquired",
		metric.WithDescription("Jobs locked by the acquisition loops.")); err != nil {
		return nil, err
	}
	if r.lockRaceLost, err = meter.Int64Counter("riptide.lock.race_lost",
		metric.WithDescription("Lock attempts lost to another acquirer.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("riptide.job.duration",
		metric.WithDescription("Duration of job executions."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.locksReclaimed, err = meter.Int64Counter("riptide.locks.reclaimed",
		metric.WithDescription("Expired job locks cleared by the reclaimer.")); err != nil {
		return nil, err
	}
	if r.queueDepth, err = meter.Int64Gauge("riptide.queue.depth",
		metric.WithDescription("Jobs waiting in the worker pool queue.")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordCommand(ctx context.Context, name string, duration time.Duration, err error) {
	r.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", commandOutcome(err)),
	))
}

func (r *OTelRecorder) RecordJobsAcquired(ctx context.Context, kind string, count int) {
	r.jobsAcquired.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
}

func (r *OTelRecorder) RecordLockRaceLost(ctx context.Context, kind string) {
	r.lockRaceLost.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (r *OTelRecorder) RecordJobExecuted(ctx context.Context, handlerType string, duration time.Duration, outcome string) {
	r.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("handler_type", handlerType),
		attribute.String("outcome", outcome),
	))
}

func (r *OTelRecorder) RecordLocksReclaimed(ctx context.Context, count int) {
	r.locksReclaimed.Add(ctx, int64(count))
}

func (r *OTelRecorder) RecordQueueDepth(ctx context.Context, depth int) {
	r.queueDepth.Record(ctx, int64(depth))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
