// Package metrics decouples metric recording from the engine's hot paths.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// defaultBufferSize is used when no positive buffer size is configured.
const defaultBufferSize = 100

// MetricEvent is one recording call queued for the worker goroutine.
type MetricEvent struct {
	Type     string
	Name     string // Command name, handler type or loop kind.
	Count    int
	Duration time.Duration
	Outcome  string
	Err      error
}

// Metric event types.
const (
	MetricEventTypeCommand        = "command"
	MetricEventTypeJobsAcquired   = "jobs_acquired"
	MetricEventTypeLockRaceLost   = "lock_race_lost"
	MetricEventTypeJobExecuted    = "job_executed"
	MetricEventTypeLocksReclaimed = "locks_reclaimed"
	MetricEventTypeQueueDepth     = "queue_depth"
)

// AsyncMetricRecorder queues metric events and records them on a separate goroutine.
// Recording never blocks the caller; events arriving while the queue is full are dropped.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker goroutine in front of syncRec.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: worker started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: worker stopped after draining %d events.", remaining)
			return
		}
	}
}

// processEvent records with a background context; the caller's context may be gone by now.
func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeCommand:
		r.syncRecorder.RecordCommand(ctx, event.Name, event.Duration, event.Err)
	case MetricEventTypeJobsAcquired:
		r.syncRecorder.RecordJobsAcquired(ctx, event.Name, event.Count)
	case MetricEventTypeLockRaceLost:
		r.syncRecorder.RecordLockRaceLost(ctx, event.Name)
	case MetricEventTypeJobExecuted:
		r.syncRecorder.RecordJobExecuted(ctx, event.Name, event.Duration, event.Outcome)
	case MetricEventTypeLocksReclaimed:
		r.syncRecorder.RecordLocksReclaimed(ctx, event.Count)
	case MetricEventTypeQueueDepth:
		r.syncRecorder.RecordQueueDepth(ctx, event.Count)
	default:
		logger.Warnf("AsyncMetricRecorder: unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after recording every queued event. It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: event queue is full (type: %s, name: %s). Event discarded.", event.Type, event.Name)
	}
}

func (r *AsyncMetricRecorder) RecordCommand(_ context.Context, name string, duration time.Duration, err error) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeCommand, Name: name, Duration: duration, Err: err})
}

func (r *AsyncMetricRecorder) RecordJobsAcquired(_ context.Context, kind string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobsAcquired, Name: kind, Count: count})
}

func (r *AsyncMetricRecorder) RecordLockRaceLost(_ context.Context, kind string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeLockRaceLost, Name: kind})
}

func (r *AsyncMetricRecorder) RecordJobExecuted(_ context.Context, handlerType string, duration time.Duration, outcome string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobExecuted, Name: handlerType, Duration: duration, Outcome: outcome})
}

func (r *AsyncMetricRecorder) RecordLocksReclaimed(_ context.Context, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeLocksReclaimed, Count: count})
}

func (r *AsyncMetricRecorder) RecordQueueDepth(_ context.Context, depth int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeQueueDepth, Count: depth})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
