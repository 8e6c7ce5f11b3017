// Package metrics defines the observability ports of the engine.
// Implementations live in infrastructure/metrics; the defaults here do nothing.
package metrics

import (
	"context"
	"time"
)

// Job execution outcomes reported to RecordJobExecuted.
const (
	OutcomeSuccess    = "success"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "deadletter"
	// OutcomeSkipped means the worker found the job gone or locked by another owner.
	OutcomeSkipped = "skipped"
)

// Acquisition loop kinds.
const (
	KindTimer = "timer"
	KindAsync = "async"
)

// MetricRecorder records engine metrics.
type MetricRecorder interface {
	// RecordCommand records one pass through the command pipeline.
	//
	// ctx: The context of the command.
	// name: The command name.
	// duration: Time spent in the pipeline, commit included.
	// err: The error returned to the caller, nil on success.
	RecordCommand(ctx context.Context, name string, duration time.Duration, err error)

	// RecordJobsAcquired records the number of jobs locked by one acquisition cycle.
	//
	// kind: KindTimer or KindAsync.
	RecordJobsAcquired(ctx context.Context, kind string, count int)

	// RecordLockRaceLost records a lock attempt lost to another acquirer.
	RecordLockRaceLost(ctx context.Context, kind string)

	// RecordJobExecuted records the outcome of one job execution.
	//
	// handlerType: The job's handler type.
	// duration: Time spent running the job command.
	// outcome: One of the Outcome constants.
	RecordJobExecuted(ctx context.Context, handlerType string, duration time.Duration, outcome string)

	// RecordLocksReclaimed records the locks cleared by one reclaimer sweep.
	RecordLocksReclaimed(ctx context.Context, count int)

	// RecordQueueDepth records the number of entries waiting in the execution queue.
	RecordQueueDepth(ctx context.Context, depth int)
}
