package asyncexecutor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// LoopConfig configures one acquisition loop.
type LoopConfig struct {
	// Kind is metrics.KindTimer or metrics.KindAsync.
	Kind          string
	Collection    model.Collection
	LockDuration  time.Duration
	MaxJobs       int
	PollInterval  time.Duration
	QueueFullWait time.Duration
}

// AcquisitionLoop is a single goroutine that selects due jobs, locks them and hands
// them to the worker pool.
type AcquisitionLoop struct {
	cfg      LoopConfig
	executor *command.Executor
	store    repository.JobStore
	pool     *WorkerPool
	clock    clock.Clock
	owner    string
	recorder metrics.MetricRecorder
	release  func(ctx context.Context, jobID string) error

	wake chan struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAcquisitionLoop creates a loop. release unlocks a job the loop locked but
// could not hand to the pool before shutdown.
func NewAcquisitionLoop(cfg LoopConfig, executor *command.Executor, store repository.JobStore, pool *WorkerPool, clk clock.Clock, owner string, recorder metrics.MetricRecorder, release func(ctx context.Context, jobID string) error) *AcquisitionLoop {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if cfg.QueueFullWait <= 0 {
		cfg.QueueFullWait = 100 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 1
	}
	return &AcquisitionLoop{
		cfg:      cfg,
		executor: executor,
		store:    store,
		pool:     pool,
		clock:    clk,
		owner:    owner,
		recorder: recorder,
		release:  release,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the loop goroutine.
func (l *AcquisitionLoop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(context.WithoutCancel(ctx), l.stop, l.done)
	logger.Infof("%s acquisition loop started (owner %s).", l.cfg.Kind, l.owner)
}

// Stop interrupts the loop, including a sleep in progress, and waits for it to exit.
func (l *AcquisitionLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	done := l.done
	l.mu.Unlock()
	<-done
	logger.Infof("%s acquisition loop stopped.", l.cfg.Kind)
}

// Running reports whether the loop is started.
func (l *AcquisitionLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Wake ends the current wait so the next cycle runs now.
func (l *AcquisitionLoop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *AcquisitionLoop) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		wait := l.cfg.PollInterval
		selected, err := l.RunCycle(ctx, stop)
		switch {
		case err != nil:
			logger.Errorf("%s acquisition cycle failed: %v", l.cfg.Kind, err)
		case selected >= l.cfg.MaxJobs:
			// There may be more due work.
			wait = 0
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-l.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// RunCycle runs one acquisition cycle and returns the number of jobs the store
// returned. Jobs that cannot be handed off before stop closes are released.
func (l *AcquisitionLoop) RunCycle(ctx context.Context, stop <-chan struct{}) (int, error) {
	selected, locked, err := l.acquire(ctx)
	if err != nil {
		return 0, err
	}
	l.recorder.RecordJobsAcquired(ctx, l.cfg.Kind, len(locked))

	for i, j := range locked {
		if !l.handOff(ctx, j, stop) {
			l.releaseAll(ctx, locked[i:])
			break
		}
	}
	l.recorder.RecordQueueDepth(ctx, l.pool.QueueDepth())
	return selected, nil
}

// acquire selects due jobs and locks them in one transaction.
func (l *AcquisitionLoop) acquire(ctx context.Context) (int, []*model.Job, error) {
	type result struct {
		selected int
		locked   []*model.Job
	}
	res, err := command.Run(ctx, l.executor, "AcquireJobs("+l.cfg.Kind+")", func(ctx context.Context, _ *command.Context) (result, error) {
		now := l.clock.Now()
		due, err := l.store.SelectDueJobs(ctx, repository.DueJobQuery{
			Collection:                         l.cfg.Collection,
			Now:                                now,
			MaxCount:                           l.cfg.MaxJobs,
			ExcludeExclusiveLockedCorrelations: true,
		})
		if err != nil {
			return result{}, err
		}

		until := now.Add(l.cfg.LockDuration)
		exclusive := make(map[string]bool)
		locked := make([]*model.Job, 0, len(due))
		for _, j := range due {
			if j.Exclusive && j.CorrelationID != "" {
				if exclusive[j.CorrelationID] {
					continue
				}
				exclusive[j.CorrelationID] = true
			}
			ok, err := l.store.TryLock(ctx, j.ID, l.owner, until, now)
			if err != nil {
				return result{}, err
			}
			if !ok {
				l.recorder.RecordLockRaceLost(ctx, l.cfg.Kind)
				logger.Debugf("Lost the lock race for job %s.", j.ID)
				continue
			}
			j.Lock(l.owner, until)
			if j.Collection == model.CollectionTimer {
				if err := promote(ctx, l.store, j, l.owner); err != nil {
					return result{}, err
				}
			}
			locked = append(locked, j)
		}
		return result{selected: len(due), locked: locked}, nil
	})
	return res.selected, res.locked, err
}

// handOff queues j, waiting QueueFullWait between attempts while the queue is full.
// It reports false when the loop is stopping or the pool is shut down.
func (l *AcquisitionLoop) handOff(ctx context.Context, j *model.Job, stop <-chan struct{}) bool {
	e := &Entry{Job: j, Kind: l.cfg.Kind, Enqueued: l.clock.Now()}
	for {
		if l.pool.TrySubmit(e) {
			return true
		}
		if l.pool.IsShutdown() {
			return false
		}
		logger.Debugf("Execution queue full; %s loop waits %s before handing off job %s.", l.cfg.Kind, l.cfg.QueueFullWait, j.ID)
		timer := time.NewTimer(l.cfg.QueueFullWait)
		select {
		case <-stop:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// promote turns a fired timer that owner just locked into a ready job.
func promote(ctx context.Context, store repository.JobStore, j *model.Job, owner string) error {
	ok, err := store.PromoteTimer(ctx, j.ID, owner)
	if err != nil {
		return err
	}
	if ok {
		j.Collection = model.CollectionReady
	}
	return nil
}

func (l *AcquisitionLoop) releaseAll(ctx context.Context, jobs []*model.Job) {
	for _, j := range jobs {
		if err := l.release(ctx, j.ID); err != nil && !errors.Is(err, repository.ErrJobNotFound) {
			logger.Warnf("Failed to release job %s; it stays locked until its lock expires: %v", j.ID, err)
		}
	}
}
