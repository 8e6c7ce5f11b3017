// Package asyncexecutor runs jobs: two acquisition loops lock due timer and
// async jobs, a bounded worker pool executes them through the command pipeline,
// and a reclaimer releases the locks of crashed executors.
package asyncexecutor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/retry"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "asyncexecutor"

// DefaultLockOwner returns "<hostname>-<uuid>", unique per process.
func DefaultLockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "riptide"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}

// Options are the collaborators of an AsyncExecutor.
type Options struct {
	Config   config.AsyncExecutorConfig
	Executor *command.Executor
	Store    repository.JobStore
	Manager  *job.Manager
	Policy   *retry.Policy
	Clock    clock.Clock
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// DisableAcquisition leaves the acquisition loops stopped; another front end
	// (message-queue mode) submits jobs to the pool.
	DisableAcquisition bool
}

// AsyncExecutor owns the acquisition loops, the worker pool and the reclaimer.
type AsyncExecutor struct {
	cfg       config.AsyncExecutorConfig
	owner     string
	clock     clock.Clock
	manager   *job.Manager
	store     repository.JobStore
	runner    *JobRunner
	pool      *WorkerPool
	timerLoop *AcquisitionLoop
	asyncLoop *AcquisitionLoop
	reclaimer *ExpiredLockReclaimer
	recorder  metrics.MetricRecorder

	acquisition bool

	mu      sync.Mutex
	started bool
}

// New wires an AsyncExecutor and registers it as a notifier of the job manager.
func New(o Options) (*AsyncExecutor, error) {
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if o.Policy == nil {
		p, err := retry.NewPolicy(o.Config.Retry)
		if err != nil {
			return nil, err
		}
		o.Policy = p
	}
	owner := o.Config.LockOwner
	if owner == "" {
		owner = DefaultLockOwner()
	}

	e := &AsyncExecutor{
		cfg:         o.Config,
		owner:       owner,
		clock:       o.Clock,
		manager:     o.Manager,
		store:       o.Store,
		recorder:    o.Recorder,
		acquisition: !o.DisableAcquisition,
	}
	e.runner = NewJobRunner(o.Executor, o.Store, o.Manager, o.Policy, o.Clock, owner, o.Recorder, o.Tracer)
	e.pool = NewWorkerPool(PoolConfig{
		CoreSize:  o.Config.CorePoolSize,
		MaxSize:   o.Config.MaxPoolSize,
		Capacity:  o.Config.QueueCapacity,
		KeepAlive: o.Config.KeepAlive,
	}, e.runner.Run, e.rejected)

	e.timerLoop = NewAcquisitionLoop(LoopConfig{
		Kind:          metrics.KindTimer,
		Collection:    model.CollectionTimer,
		LockDuration:  o.Config.TimerLockDuration,
		MaxJobs:       o.Config.TimerAcquisitionSize,
		PollInterval:  o.Config.TimerPollInterval,
		QueueFullWait: o.Config.QueueFullWait,
	}, o.Executor, o.Store, e.pool, o.Clock, owner, o.Recorder, o.Manager.UnacquireJob)
	e.asyncLoop = NewAcquisitionLoop(LoopConfig{
		Kind:          metrics.KindAsync,
		Collection:    model.CollectionReady,
		LockDuration:  o.Config.AsyncLockDuration,
		MaxJobs:       o.Config.AsyncAcquisitionSize,
		PollInterval:  o.Config.AsyncPollInterval,
		QueueFullWait: o.Config.QueueFullWait,
	}, o.Executor, o.Store, e.pool, o.Clock, owner, o.Recorder, o.Manager.UnacquireJob)
	e.reclaimer = NewExpiredLockReclaimer(o.Executor, o.Store, o.Clock, o.Config.ReclaimInterval, o.Config.ReclaimPageSize, o.Recorder, o.Manager.NotifyJobAvailable)

	o.Manager.AddNotifier(e)
	return e, nil
}

// Start starts the pool, the reclaimer and, unless disabled, the acquisition loops.
func (e *AsyncExecutor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	e.started = true
	e.pool.Start(ctx)
	e.reclaimer.Start(ctx)
	if e.acquisition {
		e.timerLoop.Start(ctx)
		e.asyncLoop.Start(ctx)
	}
	logger.Infof("Async executor %s started (acquisition loops: %t).", e.owner, e.acquisition)
	return nil
}

// Shutdown stops the loops and the reclaimer, releases queued jobs and waits up to
// the configured grace period (or until ctx ends) for running jobs.
func (e *AsyncExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	e.timerLoop.Stop()
	e.asyncLoop.Stop()
	e.reclaimer.Stop()

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = time.Minute
	}
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	err := e.pool.Shutdown(graceCtx)
	logger.Infof("Async executor %s stopped.", e.owner)
	return err
}

// rejected releases a job that was queued but never started.
func (e *AsyncExecutor) rejected(entry *Entry) {
	if err := e.manager.UnacquireJob(context.Background(), entry.Job.ID); err != nil {
		logger.Warnf("Failed to release queued job %s at shutdown: %v", entry.Job.ID, err)
	}
}

// JobAvailable wakes the acquisition loop of the job's collection when the job is due.
func (e *AsyncExecutor) JobAvailable(_ context.Context, j *model.Job) {
	if !e.acquisition || !j.IsDue(e.clock.Now()) {
		return
	}
	switch j.Collection {
	case model.CollectionTimer:
		e.timerLoop.Wake()
	case model.CollectionReady:
		e.asyncLoop.Wake()
	}
}

// LockOwner returns the identity this executor locks jobs with.
func (e *AsyncExecutor) LockOwner() string { return e.owner }

// Pool returns the worker pool, for alternative front ends.
func (e *AsyncExecutor) Pool() *WorkerPool { return e.pool }

// Runner returns the job runner.
func (e *AsyncExecutor) Runner() *JobRunner { return e.runner }

// LockDuration returns the lock duration for jobs of collection c.
func (e *AsyncExecutor) LockDuration(c model.Collection) time.Duration {
	if c == model.CollectionTimer {
		return e.cfg.TimerLockDuration
	}
	return e.cfg.AsyncLockDuration
}

// PromoteTimer moves a timer this executor just locked to the ready collection.
// It must run in the transaction that took the lock.
func (e *AsyncExecutor) PromoteTimer(ctx context.Context, j *model.Job) error {
	return promote(ctx, e.store, j, e.owner)
}

// TimerLoop returns the timer acquisition loop.
func (e *AsyncExecutor) TimerLoop() *AcquisitionLoop { return e.timerLoop }

// AsyncLoop returns the async-job acquisition loop.
func (e *AsyncExecutor) AsyncLoop() *AcquisitionLoop { return e.asyncLoop }

// Reclaimer returns the expired-lock reclaimer.
func (e *AsyncExecutor) Reclaimer() *ExpiredLockReclaimer { return e.reclaimer }

var _ job.Notifier = (*AsyncExecutor)(nil)
