// Package job holds the job handler registry, the job session and the job manager.
//
// Every job manager mutation runs as a command through the command executor, so
// jobs are created, moved and released inside the caller's transaction and only
// become visible to the acquisition loops once it commits.
package job

import (
	"context"
	"errors"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
)

const moduleName = "job"

var (
	// ErrUnknownHandlerType is wrapped by the configuration error returned when no
	// handler is registered for a job's handler type. It is never retried.
	ErrUnknownHandlerType = errors.New("unknown job handler type")
	// ErrInvalidJob is wrapped by validation failures of job manager requests.
	ErrInvalidJob = errors.New("invalid job request")
)

// Handler runs jobs of one handler type inside the command that executes the job.
type Handler interface {
	Type() string
	Execute(ctx context.Context, job *model.Job, cctx *command.Context) error
}

// HandlerFunc is the function form of Handler.Execute.
type HandlerFunc func(ctx context.Context, job *model.Job, cctx *command.Context) error

type funcHandler struct {
	handlerType string
	fn          HandlerFunc
}

// NewHandler adapts fn to a Handler of the given type.
func NewHandler(handlerType string, fn HandlerFunc) Handler {
	return &funcHandler{handlerType: handlerType, fn: fn}
}

func (h *funcHandler) Type() string { return h.handlerType }

func (h *funcHandler) Execute(ctx context.Context, job *model.Job, cctx *command.Context) error {
	return h.fn(ctx, job, cctx)
}

// Notifier is told, after commit, that a job became available for execution:
// created, released, activated or resubmitted.
type Notifier interface {
	JobAvailable(ctx context.Context, job *model.Job)
}
