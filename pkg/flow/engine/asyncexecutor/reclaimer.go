package asyncexecutor

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// ExpiredLockReclaimer periodically clears locks that expired, returning the jobs
// of crashed or partitioned executors to the acquirable pool.
type ExpiredLockReclaimer struct {
	executor *command.Executor
	store    repository.JobStore
	clock    clock.Clock
	interval time.Duration
	pageSize int
	recorder metrics.MetricRecorder
	// released is told about every job whose lock was cleared.
	released func(ctx context.Context, job *model.Job)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewExpiredLockReclaimer creates a reclaimer sweeping every interval in pages of pageSize.
func NewExpiredLockReclaimer(executor *command.Executor, store repository.JobStore, clk clock.Clock, interval time.Duration, pageSize int, recorder metrics.MetricRecorder, released func(ctx context.Context, job *model.Job)) *ExpiredLockReclaimer {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiredLockReclaimer{executor: executor, store: store, clock: clk, interval: interval, pageSize: pageSize, recorder: recorder, released: released}
}

// Start launches the periodic sweep.
func (r *ExpiredLockReclaimer) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(context.WithoutCancel(ctx), r.stop, r.done)
}

// Stop ends the periodic sweep and waits for a sweep in progress.
func (r *ExpiredLockReclaimer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *ExpiredLockReclaimer) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logger.Errorf("Expired-lock sweep failed: %v", err)
			}
		}
	}
}

// Sweep clears every lock that expired before now, one page per transaction, and
// returns how many it cleared. Jobs without a lock, or whose lock was renewed in
// between, are left untouched.
func (r *ExpiredLockReclaimer) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		page, selected, err := r.sweepPage(ctx)
		total += len(page)
		for _, j := range page {
			if r.released != nil {
				r.released(ctx, j)
			}
		}
		if err != nil {
			return total, err
		}
		if selected < r.pageSize || len(page) == 0 {
			break
		}
	}
	if total > 0 {
		logger.Infof("Reclaimed %d expired job lock(s).", total)
	}
	r.recorder.RecordLocksReclaimed(ctx, total)
	return total, nil
}

func (r *ExpiredLockReclaimer) sweepPage(ctx context.Context) ([]*model.Job, int, error) {
	type result struct {
		cleared  []*model.Job
		selected int
	}
	res, err := command.Run(ctx, r.executor, "ReclaimExpiredLocks", func(ctx context.Context, _ *command.Context) (result, error) {
		now := r.clock.Now()
		expired, err := r.store.SelectExpiredLocks(ctx, now, r.pageSize)
		if err != nil {
			return result{}, err
		}
		cleared := make([]*model.Job, 0, len(expired))
		for _, j := range expired {
			ok, err := r.store.ClearExpiredLock(ctx, j.ID, now)
			if err != nil {
				return result{}, err
			}
			if ok {
				logger.Debugf("Cleared expired lock of job %s held by %s.", j.ID, derefOwner(j))
				j.ClearLock()
				cleared = append(cleared, j)
			}
		}
		return result{cleared: cleared, selected: len(expired)}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.cleared, res.selected, nil
}

func derefOwner(j *model.Job) string {
	if j.LockOwner == nil {
		return "nobody"
	}
	return *j.LockOwner
}
