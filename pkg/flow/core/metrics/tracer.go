package metrics

import (
	"context"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
)

// EndFunc ends a span, recording err when it is not nil.
type EndFunc func(err error)

// Tracer creates spans around commands and job executions.
type Tracer interface {
	// StartCommandSpan starts a span for a command passing through the pipeline.
	StartCommandSpan(ctx context.Context, commandName string, propagation string) (context.Context, EndFunc)
	// StartJobSpan starts a span for one job execution on a worker.
	StartJobSpan(ctx context.Context, job *model.Job) (context.Context, EndFunc)
}
