package asyncexecutor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/engine/retry"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type calls struct {
	mu  sync.Mutex
	ids []string
}

func (c *calls) add(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *calls) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

type env struct {
	store    *inmemory.JobStore
	executor *command.Executor
	registry *job.Registry
	manager  *job.Manager
	clock    *clock.Manual
	calls    *calls
}

func newEnv(t *testing.T, retries int) *env {
	t.Helper()
	store := inmemory.NewJobStore()
	chain, err := command.NewChainBuilder().Add(
		command.NewTransactionInterceptor(inmemory.NewTxManager()),
		command.NewContextInterceptor(job.NewSessionFactory(store)),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	executor := command.NewExecutor(chain, command.DefaultConfig())

	c := &calls{}
	registry, err := job.NewRegistry(
		job.NewHandler("ok", func(_ context.Context, j *model.Job, _ *command.Context) error {
			c.add(j.ID)
			return nil
		}),
		job.NewHandler("failing", func(_ context.Context, j *model.Job, _ *command.Context) error {
			c.add(j.ID)
			return errAlwaysFails
		}),
	)
	require.NoError(t, err)

	clk := clock.NewManual(start)
	return &env{
		store:    store,
		executor: executor,
		registry: registry,
		manager:  job.NewManager(executor, store, registry, clk, retries),
		clock:    clk,
		calls:    c,
	}
}

func (e *env) runner(owner string) *asyncexecutor.JobRunner {
	return asyncexecutor.NewJobRunner(e.executor, e.store, e.manager, retry.NewPolicyWithBackoff(3, retry.Fixed{}), e.clock, owner, nil, nil)
}

func (e *env) asyncExecutor(t *testing.T, owner string) *asyncexecutor.AsyncExecutor {
	t.Helper()
	x, err := asyncexecutor.New(asyncexecutor.Options{
		Config:   executorConfig(owner),
		Executor: e.executor,
		Store:    e.store,
		Manager:  e.manager,
		Policy:   retry.NewPolicyWithBackoff(3, retry.Fixed{}),
		Clock:    e.clock,
	})
	require.NoError(t, err)
	return x
}

func executorConfig(owner string) config.AsyncExecutorConfig {
	cfg := config.NewConfig().Riptide.AsyncExecutor
	cfg.LockOwner = owner
	cfg.CorePoolSize = 2
	cfg.MaxPoolSize = 2
	cfg.TimerPollInterval = 20 * time.Millisecond
	cfg.AsyncPollInterval = 20 * time.Millisecond
	cfg.QueueFullWait = 5 * time.Millisecond
	cfg.ShutdownGrace = 5 * time.Second
	return cfg
}

func (e *env) lock(t *testing.T, id, owner string) *model.Job {
	t.Helper()
	ok, err := e.store.TryLock(context.Background(), id, owner, e.clock.Now().Add(time.Minute), e.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	j, err := e.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return j
}
