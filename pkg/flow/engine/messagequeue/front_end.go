package messagequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Kind labels entries dispatched by the front end.
const Kind = "mq"

// resyncPageSize bounds each page read while republishing jobs at start.
const resyncPageSize = 100

// outcome of one delivery.
type outcome int

const (
	dispatched outcome = iota
	skipped
	// requeued deliveries go back to the broker.
	requeued
	// notDue deliveries are held again until the stored due date.
	notDue
)

// FrontEnd replaces the acquisition loops in message-queue mode. Deliveries are
// held until their due time, locked and handed to the executor's worker pool, so
// execution, retries and dead-lettering stay with the JobRunner.
type FrontEnd struct {
	transport  Transport
	executor   *command.Executor
	store      repository.JobStore
	manager    *job.Manager
	async      *asyncexecutor.AsyncExecutor
	clock      clock.Clock
	submitWait time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[*time.Timer]Message
	wg      sync.WaitGroup
}

// NewFrontEnd creates a front end feeding async's worker pool and registers it as
// a notifier of manager, so committed jobs are published.
func NewFrontEnd(transport Transport, executor *command.Executor, store repository.JobStore, manager *job.Manager, async *asyncexecutor.AsyncExecutor, clk clock.Clock, submitWait time.Duration) *FrontEnd {
	if submitWait <= 0 {
		submitWait = 100 * time.Millisecond
	}
	f := &FrontEnd{
		transport:  transport,
		executor:   executor,
		store:      store,
		manager:    manager,
		async:      async,
		clock:      clk,
		submitWait: submitWait,
		pending:    make(map[*time.Timer]Message),
	}
	manager.AddNotifier(f)
	return f
}

// JobAvailable publishes an unlocked timer or ready job.
func (f *FrontEnd) JobAvailable(ctx context.Context, j *model.Job) {
	if !j.Collection.Acquirable() || j.IsLocked(f.clock.Now()) {
		return
	}
	if err := f.transport.Publish(ctx, Message{JobID: j.ID, DueAt: j.DueDate}); err != nil {
		// The job is still in the store; the next resync publishes it again.
		logger.Warnf("Failed to publish job %s: %v", j.ID, err)
	}
}

// Start consumes deliveries and republishes every pending job, so messages lost
// while no front end was running are recovered.
func (f *FrontEnd) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	deliveries, err := f.transport.Consume(runCtx)
	if err != nil {
		f.mu.Unlock()
		cancel()
		return exception.NewFlowError(moduleName, "failed to consume from the message transport", err, true)
	}
	f.running = true
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.consume(runCtx, deliveries, f.done)
	f.mu.Unlock()

	published, err := f.Resync(ctx)
	if err != nil {
		logger.Warnf("Message-queue resync stopped after %d job(s): %v", published, err)
	} else {
		logger.Infof("Message-queue front end started; republished %d pending job(s).", published)
	}
	return nil
}

// Resync publishes every timer and ready job in the store. Duplicates are harmless:
// a delivery for a job that is locked or gone is skipped.
func (f *FrontEnd) Resync(ctx context.Context) (int, error) {
	published := 0
	for _, c := range []model.Collection{model.CollectionTimer, model.CollectionReady} {
		for offset := 0; ; offset += resyncPageSize {
			page, err := f.store.FindByCollection(ctx, c, offset, resyncPageSize)
			if err != nil {
				return published, err
			}
			for _, j := range page {
				if err := f.transport.Publish(ctx, Message{JobID: j.ID, DueAt: j.DueDate}); err != nil {
					return published, err
				}
				published++
			}
			if len(page) < resyncPageSize {
				break
			}
		}
	}
	return published, nil
}

func (f *FrontEnd) consume(ctx context.Context, deliveries <-chan Delivery, done chan<- struct{}) {
	defer close(done)
	for d := range deliveries {
		f.receive(ctx, d)
	}
}

// receive settles d with the broker. Messages due later are acknowledged and held
// in memory, so they do not count against the broker's unacknowledged limit.
func (f *FrontEnd) receive(ctx context.Context, d Delivery) {
	var err error
	switch o, due := f.process(ctx, d.Message); o {
	case requeued:
		err = d.Nack(true)
	case notDue:
		f.hold(ctx, Message{JobID: d.Message.JobID, DueAt: due})
		err = d.Ack()
	default:
		err = d.Ack()
	}
	if err != nil {
		logger.Warnf("Failed to settle message for job %s: %v", d.Message.JobID, err)
	}
}

// process dispatches m when its due date has passed.
func (f *FrontEnd) process(ctx context.Context, m Message) (outcome, *time.Time) {
	if m.DueAt != nil && m.DueAt.After(f.clock.Now()) {
		return notDue, m.DueAt
	}
	return f.dispatch(ctx, m)
}

// hold keeps m without blocking a goroutine until it is due.
func (f *FrontEnd) hold(ctx context.Context, m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		go f.republish(m)
		return
	}
	wait := m.DueAt.Sub(f.clock.Now())
	f.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(wait, func() {
		defer f.wg.Done()
		f.mu.Lock()
		_, armed := f.pending[timer]
		delete(f.pending, timer)
		f.mu.Unlock()
		if !armed {
			f.republish(m)
			return
		}
		switch o, due := f.process(ctx, m); o {
		case requeued:
			f.republish(m)
		case notDue:
			f.hold(ctx, Message{JobID: m.JobID, DueAt: due})
		}
	})
	f.pending[timer] = m
}

func (f *FrontEnd) republish(m Message) {
	if err := f.transport.Publish(context.Background(), m); err != nil {
		// The job is still in the store; the next resync publishes it again.
		logger.Warnf("Failed to republish job %s: %v", m.JobID, err)
	}
}

// dispatch locks the job of m and submits it to the worker pool. A job whose
// stored due date is later than the message's is reported as notDue with that date.
func (f *FrontEnd) dispatch(ctx context.Context, m Message) (outcome, *time.Time) {
	owner := f.async.LockOwner()
	var due *time.Time
	locked, err := command.Run(ctx, f.executor, "DispatchMessage", func(ctx context.Context, _ *command.Context) (*model.Job, error) {
		now := f.clock.Now()
		j, err := f.store.FindByID(ctx, m.JobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !j.Collection.Acquirable() || j.IsLocked(now) {
			return nil, nil
		}
		if !j.IsDue(now) {
			due = j.DueDate
			return nil, nil
		}
		until := now.Add(f.async.LockDuration(j.Collection))
		ok, err := f.store.TryLock(ctx, j.ID, owner, until, now)
		if err != nil || !ok {
			return nil, err
		}
		j.Lock(owner, until)
		if j.Collection == model.CollectionTimer {
			if err := f.async.PromoteTimer(ctx, j); err != nil {
				return nil, err
			}
		}
		return j, nil
	})
	if err != nil {
		logger.Errorf("Failed to dispatch job %s: %v", m.JobID, err)
		return requeued, nil
	}
	if due != nil {
		return notDue, due
	}
	if locked == nil {
		logger.Debugf("Message for job %s skipped: the job is gone, suspended or locked.", m.JobID)
		return skipped, nil
	}

	entry := &asyncexecutor.Entry{Job: locked, Kind: Kind, Enqueued: f.clock.Now()}
	for {
		ok, err := f.async.Pool().Submit(ctx, entry, f.submitWait)
		if ok {
			return dispatched, nil
		}
		if err != nil {
			// Unacquiring publishes the job again.
			if uerr := f.manager.UnacquireJob(context.WithoutCancel(ctx), locked.ID); uerr != nil {
				logger.Warnf("Failed to release job %s: %v", locked.ID, uerr)
			}
			return skipped, nil
		}
	}
}

// Stop stops consuming, publishes the messages still held for their due date back
// to the broker and closes the transport.
func (f *FrontEnd) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.cancel()
	done := f.done
	var held []Message
	for timer, m := range f.pending {
		if timer.Stop() {
			f.wg.Done()
			held = append(held, m)
		}
		delete(f.pending, timer)
	}
	f.mu.Unlock()

	for _, m := range held {
		f.republish(m)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	f.wg.Wait()
	logger.Infof("Message-queue front end stopped; %d held message(s) returned to the broker.", len(held))
	return f.transport.Close()
}

var _ job.Notifier = (*FrontEnd)(nil)
