package command

import (
	"context"
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// ContextInterceptor creates the command context, or reuses the active one when the
// command propagates the context within the same transaction, and closes it when
// the chain unwinds past the invocation that created it.
type ContextInterceptor struct {
	factories map[string]SessionFactory
}

// NewContextInterceptor creates a ContextInterceptor that opens sessions with factories.
func NewContextInterceptor(factories ...SessionFactory) *ContextInterceptor {
	m := make(map[string]SessionFactory, len(factories))
	for _, f := range factories {
		if f == nil {
			continue
		}
		m[f.SessionType()] = f
	}
	return &ContextInterceptor{factories: m}
}

func (i *ContextInterceptor) Execute(ctx context.Context, cfg Config, cmd Command, next Next) (result interface{}, err error) {
	currentTx, _ := tx.FromContext(ctx)

	if existing, ok := FromContext(ctx); ok && cfg.ContextReusePossible() && existing.sameTransaction(currentTx) && !existing.closed {
		existing.depth++
		defer func() { existing.depth-- }()
		result, err = next(ctx, cfg, cmd)
		if err != nil {
			// The shared context can no longer commit, even if the caller recovers.
			existing.SetException(err)
			return nil, err
		}
		return result, nil
	}

	cctx := newContext(cmd, cfg, i.factories, currentTx)
	cctxCtx := withContext(ctx, cctx)
	logger.Debugf("Opened command context %s for %s.", cctx.ID(), cmd.Name())

	result, err = i.invoke(cctxCtx, cfg, cmd, next)
	cctx.SetException(err)

	if closeErr := cctx.close(cctxCtx); closeErr != nil {
		return nil, closeErr
	}
	return result, nil
}

// invoke converts a panic below the context into a failure so the context still closes.
func (i *ContextInterceptor) invoke(ctx context.Context, cfg Config, cmd Command, next Next) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewFlowError(moduleName, fmt.Sprintf("command %s panicked: %v", cmd.Name(), r), nil, false)
		}
	}()
	return next(ctx, cfg, cmd)
}

// TransactionContextInterceptor binds the context's transaction-phase listeners to
// the transaction begun by the transaction interceptor. Without such a transaction
// the listeners follow the context close.
type TransactionContextInterceptor struct{}

// NewTransactionContextInterceptor creates a TransactionContextInterceptor.
func NewTransactionContextInterceptor() *TransactionContextInterceptor {
	return &TransactionContextInterceptor{}
}

func (i *TransactionContextInterceptor) requiresCommandContext() {}

func (i *TransactionContextInterceptor) Execute(ctx context.Context, cfg Config, cmd Command, next Next) (interface{}, error) {
	cctx, ok := FromContext(ctx)
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, "transaction context interceptor invoked without a command context", ErrMalformedChain)
	}

	cctx.mu.Lock()
	unbound := cctx.txListeners == nil
	if unbound {
		if scope, ok := txScopeFrom(ctx); ok && cctx.tx != nil && scope.tx == cctx.tx {
			cctx.txListeners = scope.listeners
			unbound = false
		}
	}
	cctx.mu.Unlock()

	if unbound {
		listeners := newTransactionListeners()
		cctx.mu.Lock()
		cctx.txListeners = listeners
		cctx.mu.Unlock()
		cctx.bindAutoCommit(listeners)
	}
	return next(ctx, cfg, cmd)
}
