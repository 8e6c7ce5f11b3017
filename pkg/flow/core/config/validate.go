package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// Validate checks the configuration and returns every problem found as one configuration error.
func (c *Config) Validate() error {
	var result *multierror.Error
	r := &c.Riptide

	switch r.Command.DefaultPropagation {
	case PropagationContext, PropagationRequiresNew, PropagationNotSupported:
	default:
		result = multierror.Append(result, fmt.Errorf("command.default_propagation: unknown value %q", r.Command.DefaultPropagation))
	}

	e := r.AsyncExecutor
	if e.CorePoolSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor.core_pool_size must be positive, got %d", e.CorePoolSize))
	}
	if e.MaxPoolSize < e.CorePoolSize {
		result = multierror.Append(result, fmt.Errorf("async_executor.max_pool_size (%d) is smaller than core_pool_size (%d)", e.MaxPoolSize, e.CorePoolSize))
	}
	if e.QueueCapacity <= 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor.queue_capacity must be positive, got %d", e.QueueCapacity))
	}
	if e.TimerLockDuration <= 0 || e.AsyncLockDuration <= 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor lock durations must be positive"))
	}
	if e.TimerAcquisitionSize <= 0 || e.AsyncAcquisitionSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor acquisition sizes must be positive"))
	}
	if e.ReclaimPageSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor.reclaim_page_size must be positive, got %d", e.ReclaimPageSize))
	}
	if e.Retry.Retries < 0 {
		result = multierror.Append(result, fmt.Errorf("async_executor.retry.retries must not be negative"))
	}
	switch e.Retry.Strategy {
	case BackoffFixed, BackoffExponential:
	default:
		result = multierror.Append(result, fmt.Errorf("async_executor.retry.strategy: unknown value %q", e.Retry.Strategy))
	}
	for _, name := range e.Retry.NonRetryableErrors {
		if strings.TrimSpace(name) == "" {
			result = multierror.Append(result, fmt.Errorf("async_executor.retry.non_retryable_errors contains an empty name"))
		}
	}

	if r.JobStore.DatasourceRef == "" {
		result = multierror.Append(result, fmt.Errorf("job_store.datasource_ref is required"))
	} else if _, ok := r.Datasources[r.JobStore.DatasourceRef]; !ok {
		result = multierror.Append(result, fmt.Errorf("job_store.datasource_ref %q has no entry under datasources", r.JobStore.DatasourceRef))
	}

	if r.MessageQueue.Enabled {
		switch r.MessageQueue.Transport {
		case "amqp", "redis":
		default:
			result = multierror.Append(result, fmt.Errorf("message_queue.transport: unknown value %q", r.MessageQueue.Transport))
		}
	}

	switch r.Metrics.Recorder {
	case "prometheus", "otel", "none", "":
	default:
		result = multierror.Append(result, fmt.Errorf("metrics.recorder: unknown value %q", r.Metrics.Recorder))
	}

	switch r.Archive.Sink {
	case "local", "gcs":
	default:
		result = multierror.Append(result, fmt.Errorf("archive.sink: unknown value %q", r.Archive.Sink))
	}

	if err := result.ErrorOrNil(); err != nil {
		return exception.NewConfigurationError(moduleName, "invalid configuration", err)
	}
	return nil
}
