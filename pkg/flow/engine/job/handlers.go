package job

import (
	"context"
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Built-in handler types.
const (
	TypeAsyncContinuation  = "async-continuation"
	TypeTriggerTimer       = "trigger-timer"
	TypeSuspendDefinition  = "suspend-definition"
	TypeActivateDefinition = "activate-definition"
)

// ExecutionService is the execution layer the built-in handlers drive. It lives
// outside the engine core; all calls run inside the job's command context.
type ExecutionService interface {
	// Continue resumes the execution correlated with the job.
	Continue(ctx context.Context, correlationID, config string, cctx *command.Context) error
	// FireTimer triggers the timer event of the correlated execution.
	FireTimer(ctx context.Context, correlationID, config string, cctx *command.Context) error
	// SuspendDefinition suspends a process definition and returns the correlation ids
	// of the instances it suspended.
	SuspendDefinition(ctx context.Context, definitionID string, cctx *command.Context) ([]string, error)
	// ActivateDefinition activates a process definition and returns the correlation ids
	// of the instances it activated.
	ActivateDefinition(ctx context.Context, definitionID string, cctx *command.Context) ([]string, error)
}

// BuiltinHandlers returns the handlers backed by svc. Suspension and activation
// move the jobs of every affected correlation through manager.
func BuiltinHandlers(svc ExecutionService, manager *Manager) []Handler {
	return []Handler{
		NewHandler(TypeAsyncContinuation, func(ctx context.Context, job *model.Job, cctx *command.Context) error {
			return svc.Continue(ctx, job.CorrelationID, job.HandlerConfig, cctx)
		}),
		NewHandler(TypeTriggerTimer, func(ctx context.Context, job *model.Job, cctx *command.Context) error {
			return svc.FireTimer(ctx, job.CorrelationID, job.HandlerConfig, cctx)
		}),
		NewHandler(TypeSuspendDefinition, func(ctx context.Context, job *model.Job, cctx *command.Context) error {
			correlations, err := svc.SuspendDefinition(ctx, job.HandlerConfig, cctx)
			if err != nil {
				return err
			}
			total := 0
			for _, id := range correlations {
				n, err := manager.SuspendJobs(ctx, id)
				if err != nil {
					return fmt.Errorf("suspend jobs of %s: %w", id, err)
				}
				total += n
			}
			logger.Infof("Suspended definition %s: %d instance(s), %d job(s).", job.HandlerConfig, len(correlations), total)
			return nil
		}),
		NewHandler(TypeActivateDefinition, func(ctx context.Context, job *model.Job, cctx *command.Context) error {
			correlations, err := svc.ActivateDefinition(ctx, job.HandlerConfig, cctx)
			if err != nil {
				return err
			}
			total := 0
			for _, id := range correlations {
				n, err := manager.ActivateJobs(ctx, id)
				if err != nil {
					return fmt.Errorf("activate jobs of %s: %w", id, err)
				}
				total += n
			}
			logger.Infof("Activated definition %s: %d instance(s), %d job(s).", job.HandlerConfig, len(correlations), total)
			return nil
		}),
	}
}
