package exception_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

func TestNewFlowError(t *testing.T) {
	cause := errors.New("downstream unavailable")
	err := exception.NewFlowError("worker", "handler failed", cause, true)

	assert.Equal(t, "worker", err.Module)
	assert.Equal(t, "handler failed", err.Message)
	assert.True(t, err.IsRetryable())
	assert.NotEmpty(t, err.StackTrace)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[worker] handler failed: downstream unavailable", err.Error())
}

func TestNewFlowErrorf_TrailingErrorIsCause(t *testing.T) {
	cause := errors.New("boom")
	err := exception.NewFlowErrorf("job_store", "failed to lock job %s", "job-1", cause)

	assert.Equal(t, "failed to lock job job-1", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsRetryable())
}

func TestConfigurationError(t *testing.T) {
	err := exception.NewConfigurationError("command", "interceptor chain is empty", nil)

	assert.True(t, exception.IsConfigurationError(err))
	assert.True(t, exception.IsFatal(err))
	assert.False(t, exception.IsTemporary(err))

	wrapped := fmt.Errorf("boot: %w", err)
	assert.True(t, exception.IsConfigurationError(wrapped))
	assert.True(t, exception.IsFlowError(wrapped))
}

func TestOptimisticLockingFailure(t *testing.T) {
	err := exception.NewOptimisticLockingFailure("job_store", "job changed concurrently", errors.New("0 rows"))
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.False(t, exception.IsOptimisticLockingFailure(errors.New("other")))
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, exception.IsTemporary(errors.New("invalid payload")))
	assert.False(t, exception.IsTemporary(nil))
}

func TestIsErrorOfType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", context.Canceled)
	assert.True(t, exception.IsErrorOfType(err, "context.Canceled"))
	assert.True(t, exception.IsErrorOfType(errors.New("payment declined"), "declined"))
	assert.True(t, exception.IsErrorOfType(exception.NewFlowError("m", "x", nil, false), "*exception.FlowError"))
	assert.False(t, exception.IsErrorOfType(errors.New("x"), "y"))
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "clean", exception.ExtractErrorMessage(exception.NewFlowError("m", "clean", errors.New("noisy"), false)))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
}
