package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Manager translates engine events into job store operations. Every operation is a
// command run through the executor: called inside another command it joins that
// command's context and transaction, otherwise it runs in its own.
type Manager struct {
	executor *command.Executor
	store    repository.JobStore
	registry *Registry
	clock    clock.Clock
	retries  int

	mu        sync.RWMutex
	notifiers []Notifier
}

// NewManager creates a Manager. retries is the budget given to new jobs.
func NewManager(executor *command.Executor, store repository.JobStore, registry *Registry, clk clock.Clock, retries int) *Manager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Manager{executor: executor, store: store, registry: registry, clock: clk, retries: retries}
}

// AddNotifier registers n for job availability hints.
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

// Registry returns the handler registry.
func (m *Manager) Registry() *Registry { return m.registry }

// ScheduleTimer creates a timer job due at dueDate.
func (m *Manager) ScheduleTimer(ctx context.Context, correlationID, handlerType string, dueDate *time.Time, configData string) (*model.Job, error) {
	if dueDate == nil {
		return nil, invalid("timer job for %s needs a due date", correlationID)
	}
	if _, err := m.registry.Resolve(handlerType); err != nil {
		return nil, err
	}
	return command.Run(ctx, m.executor, "ScheduleTimer", func(ctx context.Context, cctx *command.Context) (*model.Job, error) {
		j := model.NewJob(model.CollectionTimer, handlerType, correlationID, m.retries, m.clock.Now())
		due := dueDate.UTC()
		j.DueDate = &due
		j.HandlerConfig = configData
		return j, m.create(ctx, cctx, j)
	})
}

// ScheduleRepeatingTimer creates a timer job that is rescheduled after every
// successful run according to the cron expression cronExpr.
func (m *Manager) ScheduleRepeatingTimer(ctx context.Context, correlationID, handlerType, cronExpr, configData string) (*model.Job, error) {
	if _, err := m.registry.Resolve(handlerType); err != nil {
		return nil, err
	}
	next, err := NextDue(cronExpr, m.clock.Now())
	if err != nil {
		return nil, err
	}
	return command.Run(ctx, m.executor, "ScheduleRepeatingTimer", func(ctx context.Context, cctx *command.Context) (*model.Job, error) {
		j := model.NewJob(model.CollectionTimer, handlerType, correlationID, m.retries, m.clock.Now())
		j.DueDate = &next
		j.Repeat = cronExpr
		j.HandlerConfig = configData
		return j, m.create(ctx, cctx, j)
	})
}

// CreateAsyncJob creates a ready job that may be acquired immediately.
func (m *Manager) CreateAsyncJob(ctx context.Context, correlationID, handlerType string, exclusive bool) (*model.Job, error) {
	if _, err := m.registry.Resolve(handlerType); err != nil {
		return nil, err
	}
	return command.Run(ctx, m.executor, "CreateAsyncJob", func(ctx context.Context, cctx *command.Context) (*model.Job, error) {
		j := model.NewJob(model.CollectionReady, handlerType, correlationID, m.retries, m.clock.Now())
		j.Exclusive = exclusive
		return j, m.create(ctx, cctx, j)
	})
}

func (m *Manager) create(ctx context.Context, cctx *command.Context, j *model.Job) error {
	session, err := SessionOf(ctx, cctx)
	if err != nil {
		return err
	}
	session.Add(j)
	m.notifyAfterCommit(cctx, j)
	logger.Debugf("Created %s.", j)
	return nil
}

// MoveJobToDeadLetter moves the job to the dead-letter collection. This is terminal
// for automatic processing.
func (m *Manager) MoveJobToDeadLetter(ctx context.Context, jobID string, failure model.FailureDetails) error {
	_, err := m.executor.Execute(ctx, command.New("MoveJobToDeadLetter", func(ctx context.Context, _ *command.Context) (interface{}, error) {
		if err := m.store.MoveToDeadLetter(ctx, jobID, failure); err != nil {
			return nil, err
		}
		logger.Warnf("Job %s moved to dead-letter: %s", jobID, failure.Message)
		return nil, nil
	}))
	return err
}

// UnacquireJob clears the job's lock so that it can be acquired again.
func (m *Manager) UnacquireJob(ctx context.Context, jobID string) error {
	_, err := m.executor.Execute(ctx, command.New("UnacquireJob", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
		if err := m.store.Unlock(ctx, jobID); err != nil {
			return nil, err
		}
		j, err := m.store.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		m.notifyAfterCommit(cctx, j)
		return nil, nil
	}))
	return err
}

// RetryJob releases a failed job for another attempt, recording the failure and
// the backoff due date.
func (m *Manager) RetryJob(ctx context.Context, jobID string, update repository.RetryUpdate) error {
	_, err := m.executor.Execute(ctx, command.New("RetryJob", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
		if err := m.store.UpdateRetry(ctx, jobID, update); err != nil {
			return nil, err
		}
		j, err := m.store.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		m.notifyAfterCommit(cctx, j)
		return nil, nil
	}))
	return err
}

// RescheduleJob releases a repeating timer with its next due date.
func (m *Manager) RescheduleJob(ctx context.Context, jobID string, dueDate time.Time) error {
	_, err := m.executor.Execute(ctx, command.New("RescheduleJob", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
		if err := m.store.Reschedule(ctx, jobID, dueDate); err != nil {
			return nil, err
		}
		j, err := m.store.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		m.notifyAfterCommit(cctx, j)
		return nil, nil
	}))
	return err
}

// SuspendJobs moves the timer and ready jobs of a correlation to the suspended
// collection and returns how many were moved.
func (m *Manager) SuspendJobs(ctx context.Context, correlationID string) (int, error) {
	return command.Run(ctx, m.executor, "SuspendJobs", func(ctx context.Context, _ *command.Context) (int, error) {
		moved := 0
		for _, from := range []model.Collection{model.CollectionTimer, model.CollectionReady} {
			jobs, err := m.store.MoveByCorrelation(ctx, correlationID, from, model.CollectionSuspended)
			if err != nil {
				return 0, err
			}
			moved += len(jobs)
		}
		return moved, nil
	})
}

// ActivateJobs moves the suspended jobs of a correlation back to the ready
// collection, keeping their due dates, and returns how many were moved.
func (m *Manager) ActivateJobs(ctx context.Context, correlationID string) (int, error) {
	return command.Run(ctx, m.executor, "ActivateJobs", func(ctx context.Context, cctx *command.Context) (int, error) {
		jobs, err := m.store.MoveByCorrelation(ctx, correlationID, model.CollectionSuspended, model.CollectionReady)
		if err != nil {
			return 0, err
		}
		for _, j := range jobs {
			m.notifyAfterCommit(cctx, j)
		}
		return len(jobs), nil
	})
}

// ResubmitDeadLetterJob returns a dead-letter job to the ready collection with a
// fresh retry budget. The last failure stays recorded.
func (m *Manager) ResubmitDeadLetterJob(ctx context.Context, jobID string, retries int) error {
	if retries <= 0 {
		return invalid("resubmitting job %s needs a positive retry budget, got %d", jobID, retries)
	}
	_, err := m.executor.Execute(ctx, command.New("ResubmitDeadLetterJob", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
		j, err := m.store.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := m.store.MoveToCollection(ctx, jobID, model.CollectionDeadLetter, model.CollectionReady); err != nil {
			return nil, err
		}
		if err := m.store.UpdateRetry(ctx, jobID, repository.RetryUpdate{Retries: retries, Failure: j.Failure()}); err != nil {
			return nil, err
		}
		j.Collection = model.CollectionReady
		j.Retries = retries
		j.DueDate = nil
		m.notifyAfterCommit(cctx, j)
		logger.Infof("Resubmitted dead-letter job %s with %d retries.", jobID, retries)
		return nil, nil
	}))
	return err
}

// FindJob returns the job or an error wrapping repository.ErrJobNotFound.
func (m *Manager) FindJob(ctx context.Context, jobID string) (*model.Job, error) {
	return command.Run(ctx, m.executor, "FindJob", func(ctx context.Context, _ *command.Context) (*model.Job, error) {
		return m.store.FindByID(ctx, jobID)
	})
}

// NotifyJobAvailable hints the notifiers now. It is used for releases that are
// already committed, such as reclaimed locks.
func (m *Manager) NotifyJobAvailable(ctx context.Context, j *model.Job) {
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()
	for _, n := range notifiers {
		n.JobAvailable(ctx, j)
	}
}

// notifyAfterCommit hints the notifiers once the surrounding transaction commits.
func (m *Manager) notifyAfterCommit(cctx *command.Context, j *model.Job) {
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()
	if len(notifiers) == 0 {
		return
	}
	snapshot := j.Clone()
	cctx.AddTransactionListener(command.AfterCommit, func(ctx context.Context) error {
		for _, n := range notifiers {
			n.JobAvailable(ctx, snapshot)
		}
		return nil
	})
}

func invalid(format string, a ...interface{}) error {
	return exception.NewFlowError(moduleName, fmt.Sprintf(format, a...), ErrInvalidJob, false)
}
