package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
)

// OTelTracer implements metrics.Tracer with OpenTelemetry spans.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates an OTelTracer using the engine's scope on provider.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *OTelTracer) StartCommandSpan(ctx context.Context, commandName string, propagation string) (context.Context, metrics.EndFunc) {
	ctx, span := t.tracer.Start(ctx, "riptide.command "+commandName,
		trace.WithAttributes(
			attribute.String("riptide.command.name", commandName),
			attribute.String("riptide.command.propagation", propagation),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, endSpan(span)
}

func (t *OTelTracer) StartJobSpan(ctx context.Context, job *model.Job) (context.Context, metrics.EndFunc) {
	ctx, span := t.tracer.Start(ctx, "riptide.job.execute",
		trace.WithAttributes(
			attribute.String("riptide.job.id", job.ID),
			attribute.String("riptide.job.handler_type", job.HandlerType),
			attribute.String("riptide.job.correlation_id", job.CorrelationID),
			attribute.String("riptide.job.collection", string(job.Collection)),
			attribute.Int("riptide.job.retries", job.Retries),
			attribute.Bool("riptide.job.exclusive", job.Exclusive),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	return ctx, endSpan(span)
}

func endSpan(span trace.Span) metrics.EndFunc {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

var _ metrics.Tracer = (*OTelTracer)(nil)
