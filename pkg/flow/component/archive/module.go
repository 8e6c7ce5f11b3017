package archive

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/adapter/storage"
	"github.com/tigerroll/riptide/pkg/flow/adapter/storage/gcs"
	"github.com/tigerroll/riptide/pkg/flow/adapter/storage/local"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// NewSink opens the storage selected by cfg.Sink.
func NewSink(ctx context.Context, cfg config.ArchiveConfig) (storage.StorageConnection, error) {
	switch cfg.Sink {
	case local.ProviderType, "":
		return local.NewLocalAdapter(cfg.LocalDir, cfg.Bucket, moduleName)
	case gcs.ProviderType:
		if cfg.Bucket == "" {
			return nil, exception.NewConfigurationError(moduleName, "the gcs archive sink needs a bucket", nil)
		}
		return gcs.NewGCSAdapter(ctx, cfg.Bucket, cfg.CredentialsFile, moduleName)
	default:
		return nil, exception.NewConfigurationError(moduleName, "unknown archive sink '"+cfg.Sink+"'", nil)
	}
}

// NewSinkWithLifecycle opens the sink and closes it when the application stops.
func NewSinkWithLifecycle(lc fx.Lifecycle, cfg config.ArchiveConfig) (storage.StorageConnection, error) {
	sink, err := NewSink(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return sink.Close() },
	})
	return sink, nil
}

// Module provides the archive sink and the Archiver.
var Module = fx.Options(
	fx.Provide(NewSinkWithLifecycle, NewArchiver),
)
