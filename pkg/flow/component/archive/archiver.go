// Package archive moves dead-letter jobs out of the job store into parquet files
// on object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/riptide/pkg/flow/adapter/storage"
	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const (
	moduleName         = "archive"
	defaultPageSize    = 500
	parquetContentType = "application/x-parquet"
)

// Result describes one archive run.
type Result struct {
	// Archived is the number of jobs written to Object.
	Archived int
	// Object is the uploaded object name; empty when there was nothing to archive.
	Object string
	// Purged is the number of archived jobs deleted from the dead-letter collection.
	Purged int
}

// Archiver writes the dead-letter collection to a parquet object and optionally purges it.
type Archiver struct {
	store repository.JobStore
	exec  *command.Executor
	sink  storage.StorageConnection
	cfg   config.ArchiveConfig
	clock clock.Clock
}

// NewArchiver creates an Archiver.
func NewArchiver(store repository.JobStore, exec *command.Executor, sink storage.StorageConnection, cfg config.ArchiveConfig, clk clock.Clock) *Archiver {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Archiver{store: store, exec: exec, sink: sink, cfg: cfg, clock: clk}
}

// Archive reads every dead-letter job, uploads them as one parquet object and,
// when purging is enabled, deletes the archived jobs that are still dead-lettered.
func (a *Archiver) Archive(ctx context.Context) (Result, error) {
	var result Result

	jobs, err := a.readDeadLetters(ctx)
	if err != nil {
		return result, err
	}
	if len(jobs) == 0 {
		logger.Infof("Archive: dead-letter collection is empty.")
		return result, nil
	}

	now := a.clock.Now()
	buf, err := encode(jobs, now.UnixMilli())
	if err != nil {
		return result, exception.NewFlowError(moduleName, "failed to encode dead-letter jobs", err, false)
	}

	object := path.Join(a.cfg.Prefix, "dt="+now.Format("2006-01-02"),
		fmt.Sprintf("deadletter_%s_%s.parquet", now.Format("20060102150405"), uuid.NewString()[:8]))
	if err := a.sink.Upload(ctx, "", object, buf, parquetContentType); err != nil {
		return result, exception.NewFlowError(moduleName, "failed to upload archive "+object, err, true)
	}
	result.Archived = len(jobs)
	result.Object = object
	logger.Infof("Archive: wrote %d dead-letter jobs to %s (%s).", len(jobs), object, a.sink.Type())

	if !a.cfg.Purge {
		return result, nil
	}
	purged, err := a.purge(ctx, jobs)
	result.Purged = purged
	return result, err
}

func (a *Archiver) readDeadLetters(ctx context.Context) ([]*model.Job, error) {
	return command.Run(ctx, a.exec, "archive-read-deadletter", func(ctx context.Context, _ *command.Context) ([]*model.Job, error) {
		var all []*model.Job
		for offset := 0; ; offset += a.cfg.PageSize {
			page, err := a.store.FindByCollection(ctx, model.CollectionDeadLetter, offset, a.cfg.PageSize)
			if err != nil {
				return nil, err
			}
			all = append(all, page...)
			if len(page) < a.cfg.PageSize {
				return all, nil
			}
		}
	})
}

// purge deletes the archived jobs in one transaction. Jobs that left the
// dead-letter collection since they were read are kept.
func (a *Archiver) purge(ctx context.Context, jobs []*model.Job) (int, error) {
	return command.Run(ctx, a.exec, "archive-purge", func(ctx context.Context, _ *command.Context) (int, error) {
		purged := 0
		for _, j := range jobs {
			current, err := a.store.FindByID(ctx, j.ID)
			if errors.Is(err, repository.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			if current.Collection != model.CollectionDeadLetter {
				logger.Debugf("Archive: job %s left the dead-letter collection, keeping it.", j.ID)
				continue
			}
			if err := a.store.Delete(ctx, j.ID); err != nil {
				return 0, err
			}
			purged++
		}
		logger.Infof("Archive: purged %d archived jobs.", purged)
		return purged, nil
	})
}

// encode writes the jobs as one SNAPPY-compressed row group.
func encode(jobs []*model.Job, archivedAt int64) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(Record), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var errs *multierror.Error
	for _, j := range jobs {
		if err := pw.Write(newRecord(j, archivedAt)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %s: %w", j.ID, err))
		}
	}
	if errs.ErrorOrNil() != nil {
		return nil, errs
	}

	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}
