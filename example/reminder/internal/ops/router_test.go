package ops_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/example/reminder/internal/ops"
	"github.com/tigerroll/riptide/example/reminder/internal/reminder"
	"github.com/tigerroll/riptide/pkg/flow/component/archive"
	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/metrics"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *inmemory.JobStore
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := inmemory.NewJobStore()
	recorder := metrics.NewPrometheusRecorder("reminder")
	chain, err := command.NewChainBuilder().Add(
		command.NewLoggingInterceptor(recorder, nil),
		command.NewTransactionInterceptor(inmemory.NewTxManager()),
		command.NewContextInterceptor(job.NewSessionFactory(store)),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	exec := command.NewExecutor(chain, command.DefaultConfig())

	registry, err := job.NewRegistry(reminder.NewHandler(reminder.LogDeliverer{}))
	require.NoError(t, err)
	manager := job.NewManager(exec, store, registry, clock.NewManual(t0), 3)

	sink, err := archive.NewSink(context.Background(), config.ArchiveConfig{LocalDir: filepath.Join(t.TempDir(), "archive")})
	require.NoError(t, err)
	archiver := archive.NewArchiver(store, exec, sink, config.ArchiveConfig{Prefix: "deadletter", Purge: true}, clock.NewManual(t0))

	srv := httptest.NewServer(ops.NewRouter(ops.Deps{
		Metrics:   recorder.Handler(),
		Store:     store,
		Manager:   manager,
		Reminders: reminder.NewService(manager),
		Archiver:  archiver,
	}))
	t.Cleanup(srv.Close)
	return &fixture{store: store, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ScheduleSuspendActivate(t *testing.T) {
	f := newFixture(t)

	resp, created := f.do(t, http.MethodPost, "/reminders", `{"recipient":"ana","message":"standup","due_in":60000000000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["ID"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, string(model.CollectionTimer), created["Collection"])

	resp, found := f.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, reminder.HandlerType, found["HandlerType"])

	resp, out := f.do(t, http.MethodPost, "/correlations/ana/suspend", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["suspended"])

	resp, out = f.do(t, http.MethodPost, "/correlations/ana/activate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["activated"])

	resp, counts := f.do(t, http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, counts[string(model.CollectionReady)])
}

func TestRouter_Errors(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/reminders", `{"message":"no recipient"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/reminders", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/jobs/missing/resubmit", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ArchiveAndMetrics(t *testing.T) {
	f := newFixture(t)
	dead := model.NewJob(model.CollectionDeadLetter, reminder.HandlerType, "ana", 0, t0)
	require.NoError(t, f.store.Insert(context.Background(), dead))

	resp, res := f.do(t, http.MethodPost, "/archive", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, res["Archived"])
	assert.EqualValues(t, 1, res["Purged"])

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
