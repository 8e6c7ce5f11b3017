package archive_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/adapter/storage"
	"github.com/tigerroll/riptide/pkg/flow/adapter/storage/local"
	"github.com/tigerroll/riptide/pkg/flow/component/archive"
	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *inmemory.JobStore
	sink     storage.StorageConnection
	archiver *archive.Archiver
}

func newFixture(t *testing.T, purge bool) *fixture {
	t.Helper()
	store := inmemory.NewJobStore()
	chain, err := command.NewChainBuilder().Add(
		command.NewTransactionInterceptor(inmemory.NewTxManager()),
		command.NewContextInterceptor(),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)

	cfg := config.ArchiveConfig{Sink: "local", LocalDir: filepath.Join(t.TempDir(), "archive"), Prefix: "deadletter", PageSize: 2, Purge: purge}
	sink, err := archive.NewSink(context.Background(), cfg)
	require.NoError(t, err)
	return &fixture{
		store:    store,
		sink:     sink,
		archiver: archive.NewArchiver(store, command.NewExecutor(chain, command.DefaultConfig()), sink, cfg, clock.NewManual(t0)),
	}
}

func (f *fixture) insert(t *testing.T, c model.Collection) *model.Job {
	t.Helper()
	j := model.NewJob(c, "mail", "proc", 0, t0)
	j.ExceptionMessage = "smtp unavailable"
	require.NoError(t, f.store.Insert(context.Background(), j))
	return j
}

func (f *fixture) object(t *testing.T, name string) []byte {
	t.Helper()
	r, err := f.sink.Download(context.Background(), "", name)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestArchive_WritesParquetObject(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 5; i++ {
		f.insert(t, model.CollectionDeadLetter)
	}
	f.insert(t, model.CollectionReady)

	res, err := f.archiver.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Archived)
	assert.Zero(t, res.Purged)
	assert.True(t, strings.HasPrefix(res.Object, "deadletter/dt=2026-01-01/deadletter_20260101120000_"))
	assert.True(t, strings.HasSuffix(res.Object, ".parquet"))

	data := f.object(t, res.Object)
	require.Greater(t, len(data), 8)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))

	n, err := f.store.CountByCollection(context.Background(), model.CollectionDeadLetter)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n, "jobs are kept without purge")
}

func TestArchive_PurgeDeletesArchivedJobs(t *testing.T) {
	f := newFixture(t, true)
	for i := 0; i < 3; i++ {
		f.insert(t, model.CollectionDeadLetter)
	}
	active := f.insert(t, model.CollectionReady)

	res, err := f.archiver.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Archived)
	assert.Equal(t, 3, res.Purged)

	n, err := f.store.CountByCollection(context.Background(), model.CollectionDeadLetter)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.store.FindByID(context.Background(), active.ID)
	assert.NoError(t, err)
}

func TestArchive_EmptyCollectionUploadsNothing(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.archiver.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, archive.Result{}, res)

	var objects []string
	require.NoError(t, f.sink.ListObjects(context.Background(), "", "", func(name string) error {
		objects = append(objects, name)
		return nil
	}))
	assert.Empty(t, objects)
}

func TestNewSink(t *testing.T) {
	sink, err := archive.NewSink(context.Background(), config.ArchiveConfig{Sink: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, local.ProviderType, sink.Type())

	_, err = archive.NewSink(context.Background(), config.ArchiveConfig{Sink: "gcs"})
	assert.True(t, exception.IsConfigurationError(err))

	_, err = archive.NewSink(context.Background(), config.ArchiveConfig{Sink: "ftp"})
	assert.True(t, exception.IsConfigurationError(err))
}
