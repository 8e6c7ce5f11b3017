package asyncexecutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// ErrPoolShutdown is returned when submitting to a pool that is shutting down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Entry is a locked job waiting in the execution queue. The authoritative state
// stays in the job store.
type Entry struct {
	Job *model.Job
	// Kind is the front end that locked the job (metrics.KindTimer, metrics.KindAsync or "mq").
	Kind     string
	Enqueued time.Time
}

// EntryHandler runs one entry on a worker.
type EntryHandler func(ctx context.Context, e *Entry)

// PoolConfig sizes a WorkerPool.
type PoolConfig struct {
	CoreSize  int
	MaxSize   int
	Capacity  int
	KeepAlive time.Duration
}

// WorkerPool is a bounded queue drained by CoreSize permanent workers plus up to
// MaxSize-CoreSize elastic workers that exit after KeepAlive without work.
type WorkerPool struct {
	cfg      PoolConfig
	queue    chan *Entry
	handler  EntryHandler
	onReject func(e *Entry)
	elastic  *semaphore.Weighted

	mu       sync.RWMutex
	started  bool
	closed   bool
	draining atomic.Bool
	runCtx   context.Context
	wg       sync.WaitGroup
	active   atomic.Int32
}

// NewWorkerPool creates a pool. onReject receives entries that were queued but
// never started when the pool shut down; it may be nil.
func NewWorkerPool(cfg PoolConfig, handler EntryHandler, onReject func(e *Entry)) *WorkerPool {
	if cfg.CoreSize < 1 {
		cfg.CoreSize = 1
	}
	if cfg.MaxSize < cfg.CoreSize {
		cfg.MaxSize = cfg.CoreSize
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	return &WorkerPool{
		cfg:      cfg,
		queue:    make(chan *Entry, cfg.Capacity),
		handler:  handler,
		onReject: onReject,
		elastic:  semaphore.NewWeighted(int64(cfg.MaxSize - cfg.CoreSize)),
	}
}

// Start launches the core workers. ctx is handed to every job execution.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx = context.WithoutCancel(ctx)
	for i := 0; i < p.cfg.CoreSize; i++ {
		p.wg.Add(1)
		go p.work(0)
	}
	logger.Debugf("Worker pool started: core=%d, max=%d, capacity=%d.", p.cfg.CoreSize, p.cfg.MaxSize, p.cfg.Capacity)
}

// TrySubmit queues e without blocking. It reports false when the queue is full or
// the pool is shut down.
func (p *WorkerPool) TrySubmit(e *Entry) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.started {
		return false
	}
	select {
	case p.queue <- e:
	default:
		return false
	}
	p.maybeGrow()
	return true
}

// Submit queues e, waiting up to wait for room. It returns ErrPoolShutdown once
// the pool is shut down and ctx.Err() when ctx ends first.
func (p *WorkerPool) Submit(ctx context.Context, e *Entry, wait time.Duration) (bool, error) {
	if p.TrySubmit(e) {
		return true, nil
	}
	if p.IsShutdown() {
		return false, ErrPoolShutdown
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}
	if p.TrySubmit(e) {
		return true, nil
	}
	if p.IsShutdown() {
		return false, ErrPoolShutdown
	}
	return false, nil
}

// maybeGrow starts an elastic worker when work is waiting and the pool may grow.
// The caller holds p.mu.
func (p *WorkerPool) maybeGrow() {
	if len(p.queue) == 0 || int(p.active.Load()) < p.cfg.CoreSize {
		return
	}
	if !p.elastic.TryAcquire(1) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.elastic.Release(1)
		p.work(p.cfg.KeepAlive)
	}()
}

// work drains the queue. Elastic workers (keepAlive > 0) exit after keepAlive idle.
func (p *WorkerPool) work(keepAlive time.Duration) {
	defer p.wg.Done()
	var idle <-chan time.Time
	var timer *time.Timer
	if keepAlive > 0 {
		timer = time.NewTimer(keepAlive)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case e, ok := <-p.queue:
			if !ok {
				return
			}
			if p.draining.Load() {
				p.reject(e)
				continue
			}
			p.run(e)
			if timer != nil {
				timer.Reset(keepAlive)
			}
		case <-idle:
			return
		}
	}
}

func (p *WorkerPool) run(e *Entry) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err := exception.NewFlowError(moduleName, "worker recovered from panic", nil, false)
			logger.Errorf("Job %s panicked on a worker: %v\n%s", e.Job.ID, r, err.StackTrace)
		}
	}()
	p.handler(p.runCtx, e)
}

func (p *WorkerPool) reject(e *Entry) {
	if p.onReject != nil {
		p.onReject(e)
	}
}

// QueueDepth returns the number of queued entries.
func (p *WorkerPool) QueueDepth() int {
	return len(p.queue)
}

// Active returns the number of entries being run.
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// IsShutdown reports whether Shutdown was called.
func (p *WorkerPool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Shutdown stops accepting entries, hands queued entries to onReject and waits for
// running entries until ctx ends. Entries still running then are abandoned; their
// locks expire and the reclaimer recovers them.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.draining.Store(true)
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for e := range p.queue {
			p.reject(e)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debugf("Worker pool stopped.")
		return nil
	case <-ctx.Done():
		logger.Warnf("Worker pool shutdown grace elapsed with %d job(s) still running; their locks will expire.", p.Active())
		return ctx.Err()
	}
}
