package logging_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
	"github.com/tigerroll/riptide/pkg/flow/listener/logging"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

func captureDebug(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})
	return &buf
}

func TestJobListener_LogsCommittedJobs(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := inmemory.NewJobStore()
	chain, err := command.NewChainBuilder().Add(
		command.NewTransactionInterceptor(inmemory.NewTxManager()),
		command.NewContextInterceptor(job.NewSessionFactory(store)),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	registry, err := job.NewRegistry(job.NewHandler("noop", func(context.Context, *model.Job, *command.Context) error { return nil }))
	require.NoError(t, err)
	clk := clock.NewManual(now)
	manager := job.NewManager(command.NewExecutor(chain, command.DefaultConfig()), store, registry, clk, 3)
	manager.AddNotifier(logging.NewJobListener(clk))

	buf := captureDebug(t)

	due := now.Add(time.Minute)
	timer, err := manager.ScheduleTimer(context.Background(), "c-1", "noop", &due, "")
	require.NoError(t, err)
	ready, err := manager.CreateAsyncJob(context.Background(), "c-1", "noop", false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, timer.ID+", type=noop")
	assert.Contains(t, out, "is due in 1m0s")
	assert.Contains(t, out, ready.ID+", type=noop")
	assert.Contains(t, out, "is available now")
}

func TestJobListener_QuietAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	l := logging.NewJobListener(clock.NewManual(time.Now()))
	l.JobAvailable(context.Background(), model.NewJob(model.CollectionReady, "noop", "c-1", 3, time.Now()))
	assert.Empty(t, buf.String())
}
