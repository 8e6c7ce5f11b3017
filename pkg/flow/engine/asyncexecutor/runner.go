package asyncexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/retry"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// errNotOwned marks a job that is gone or no longer locked by this executor.
var errNotOwned = errors.New("job is no longer owned by this executor")

// JobRunner executes locked jobs. It is the worker side shared by the acquisition
// loops and the message-queue front end.
type JobRunner struct {
	executor *command.Executor
	store    repository.JobStore
	manager  *job.Manager
	policy   *retry.Policy
	clock    clock.Clock
	owner    string
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewJobRunner creates a JobRunner executing jobs locked by owner.
func NewJobRunner(executor *command.Executor, store repository.JobStore, manager *job.Manager, policy *retry.Policy, clk clock.Clock, owner string, recorder metrics.MetricRecorder, tracer metrics.Tracer) *JobRunner {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &JobRunner{executor: executor, store: store, manager: manager, policy: policy, clock: clk, owner: owner, recorder: recorder, tracer: tracer}
}

// Run executes e.Job and records the outcome. Handler failures become retry or
// dead-letter transitions; Run never panics and never returns them.
func (r *JobRunner) Run(ctx context.Context, e *Entry) {
	started := time.Now()
	ctx, end := r.tracer.StartJobSpan(ctx, e.Job)

	err := r.execute(ctx, e.Job)
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
		logger.Debugf("Job %s (%s) completed.", e.Job.ID, e.Job.HandlerType)
	case errors.Is(err, errNotOwned):
		outcome = metrics.OutcomeSkipped
		logger.Infof("Job %s skipped: %v", e.Job.ID, err)
		err = nil
	default:
		outcome = r.handleFailure(ctx, e.Job, err)
	}

	end(err)
	r.recorder.RecordJobExecuted(ctx, e.Job.HandlerType, time.Since(started), outcome)
}

// execute runs the job command: re-read, owner check, dispatch, then delete or
// reschedule. The transaction rolls back on any failure.
func (r *JobRunner) execute(ctx context.Context, locked *model.Job) error {
	_, err := r.executor.Execute(ctx, command.New("ExecuteJob", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
		now := r.clock.Now()
		current, err := r.liveJob(ctx, locked.ID, now)
		if err != nil {
			return nil, err
		}
		handler, err := r.manager.Registry().Resolve(current.HandlerType)
		if err != nil {
			return nil, err
		}
		if err := handler.Execute(ctx, current, cctx); err != nil {
			return nil, err
		}
		if current.Repeat != "" {
			next, err := job.NextDue(current.Repeat, now)
			if err != nil {
				return nil, err
			}
			return nil, r.manager.RescheduleJob(ctx, current.ID, next)
		}
		return nil, r.store.Delete(ctx, current.ID)
	}))
	return err
}

// handleFailure runs the failure command in a fresh transaction and returns the outcome.
// The failure is recorded while this runner is still the recorded lock owner, even
// when the lock expired during a long execution and no one reclaimed it.
func (r *JobRunner) handleFailure(ctx context.Context, locked *model.Job, cause error) string {
	outcome := metrics.OutcomeRetry
	_, err := r.executor.Execute(ctx, command.New("HandleJobFailure", func(ctx context.Context, _ *command.Context) (interface{}, error) {
		now := r.clock.Now()
		current, err := r.heldJob(ctx, locked.ID)
		if err != nil {
			return nil, err
		}
		decision := r.policy.OnFailure(current, cause, now)
		if decision.DeadLetter {
			outcome = metrics.OutcomeDeadLetter
			return nil, r.manager.MoveJobToDeadLetter(ctx, current.ID, decision.Failure)
		}
		if current.Collection == model.CollectionTimer {
			// A fired timer retries as a ready job.
			if _, err := r.store.PromoteTimer(ctx, current.ID, r.owner); err != nil {
				return nil, err
			}
		}
		logger.Warnf("Job %s (%s) failed, %d retries left: %v", current.ID, current.HandlerType, decision.Retries, cause)
		return nil, r.manager.RetryJob(ctx, current.ID, repository.RetryUpdate{
			Retries: decision.Retries,
			DueDate: decision.DueDate,
			Failure: decision.Failure,
		})
	}))
	if errors.Is(err, errNotOwned) {
		logger.Infof("Failure of job %s not recorded: %v", locked.ID, err)
		return metrics.OutcomeSkipped
	}
	if err != nil {
		// The lock stays; the reclaimer releases the job once it expires.
		logger.Errorf("Failed to record failure of job %s: %v (job failure: %v)", locked.ID, err, cause)
	}
	return outcome
}

// liveJob returns the job when this runner holds a live lock on it.
func (r *JobRunner) liveJob(ctx context.Context, id string, now time.Time) (*model.Job, error) {
	current, err := r.findJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsLockedBy(r.owner, now) {
		return nil, fmt.Errorf("%w: %s is not locked by %s", errNotOwned, id, r.owner)
	}
	return current, nil
}

// heldJob returns the job while this runner is its recorded lock owner, expired or not.
func (r *JobRunner) heldJob(ctx context.Context, id string) (*model.Job, error) {
	current, err := r.findJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.HeldBy(r.owner) {
		return nil, fmt.Errorf("%w: %s was released or relocked by another owner", errNotOwned, id)
	}
	return current, nil
}

func (r *JobRunner) findJob(ctx context.Context, id string) (*model.Job, error) {
	current, err := r.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, fmt.Errorf("%w: %s was deleted", errNotOwned, id)
	}
	return current, err
}

// Owner returns the lock owner the runner checks against.
func (r *JobRunner) Owner() string { return r.owner }
