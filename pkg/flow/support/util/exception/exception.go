// Package exception defines the error taxonomy shared by the riptide engine.
//
// Errors fall into three groups: configuration errors (fatal at startup or first use,
// never retried), transient failures (retried by the job executor up to its budget)
// and expected absences, which packages report through their own sentinels.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// stackTraceSize bounds the captured stack trace.
const stackTraceSize = 4096

var (
	// ErrConfiguration marks configuration errors: an empty or malformed interceptor chain,
	// an unknown job-handler type, a missing datasource. They are never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrOptimisticLockingFailure marks a conditional write that matched no row.
	ErrOptimisticLockingFailure = errors.New("optimistic locking failure")
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a sentinel under a name so configuration
// (for example the retry policy's non-retryable error list) can refer to it.
// It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name was registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// FlowError is the engine's structured error.
// It records the module that raised it, a short message, the wrapped cause,
// whether the failure may be retried and the stack at creation.
type FlowError struct {
	// Module names the raising component (e.g. "command", "asyncexecutor", "job_store").
	Module string
	// Message is a concise description.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	// StackTrace is captured when the error is created.
	StackTrace string

	retryable bool
}

// NewFlowError creates a FlowError.
//
// module: The module where the error occurred.
// message: The error message.
// originalErr: The cause to wrap, may be nil.
// retryable: Whether the failure may be retried.
func NewFlowError(module, message string, originalErr error, retryable bool) *FlowError {
	return &FlowError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
		retryable:   retryable,
	}
}

// NewFlowErrorf creates a non-retryable FlowError with a formatted message.
// If the last argument is an error it becomes the wrapped cause and is not used for formatting.
func NewFlowErrorf(module, format string, a ...interface{}) *FlowError {
	var cause error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			cause = err
			a = a[:len(a)-1]
		}
	}
	return NewFlowError(module, fmt.Sprintf(format, a...), cause, false)
}

// NewConfigurationError creates a fatal configuration error that wraps ErrConfiguration.
func NewConfigurationError(module, message string, cause error) *FlowError {
	wrapped := ErrConfiguration
	if cause != nil {
		wrapped = errors.Join(ErrConfiguration, cause)
	}
	return NewFlowError(module, message, wrapped, false)
}

// NewOptimisticLockingFailure creates an error that wraps ErrOptimisticLockingFailure.
func NewOptimisticLockingFailure(module, message string, cause error) *FlowError {
	wrapped := ErrOptimisticLockingFailure
	if cause != nil {
		wrapped = errors.Join(ErrOptimisticLockingFailure, cause)
	}
	return NewFlowError(module, message, wrapped, false)
}

func captureStack() string {
	buf := make([]byte, stackTraceSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *FlowError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the failure may be retried.
func (e *FlowError) IsRetryable() bool {
	return e.retryable
}

// IsFlowError reports whether err is, or wraps, a FlowError.
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

// IsConfigurationError reports whether err wraps ErrConfiguration.
func IsConfigurationError(err error) bool {
	return err != nil && errors.Is(err, ErrConfiguration)
}

// IsOptimisticLockingFailure reports whether err wraps ErrOptimisticLockingFailure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// IsTemporary reports whether err looks transient.
// A FlowError's own retryable flag takes precedence over message inspection.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if IsConfigurationError(err) {
		return true
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return !fe.IsRetryable() && fe.OriginalErr == nil
	}
	return false
}

// IsErrorOfType matches err against a registered name, a message substring,
// or a Go type name such as "*net.OpError".
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil || errorTypeName == "" {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for current := err; current != nil; current = errors.Unwrap(current) {
		if strings.Contains(current.Error(), errorTypeName) {
			return true
		}
		t := reflect.TypeOf(current)
		if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns the FlowError message when present, otherwise err.Error().
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// StackTraceOf returns the stack captured by the outermost FlowError in err's chain,
// or a stack captured now when there is none.
func StackTraceOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) && fe.StackTrace != "" {
		return fe.StackTrace
	}
	return captureStack()
}

func init() {
	RegisterErrorType("ConfigurationError", ErrConfiguration)
	RegisterErrorType("OptimisticLockingFailure", ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
