package command

import (
	"context"
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// txScope is a transaction begun by the transaction interceptor together with
// its phase listeners.
type txScope struct {
	tx        tx.Tx
	listeners *transactionListeners
}

type txScopeKey struct{}

func withTxScope(ctx context.Context, s *txScope) context.Context {
	return context.WithValue(ctx, txScopeKey{}, s)
}

func txScopeFrom(ctx context.Context) (*txScope, bool) {
	s, ok := ctx.Value(txScopeKey{}).(*txScope)
	return s, ok && s != nil
}

// TransactionInterceptor demarcates transactions according to the command's propagation.
//
// PROPAGATION_CONTEXT joins the active transaction or begins one. REQUIRES_NEW suspends
// the active transaction and begins a new one. NOT_SUPPORTED suspends the active
// transaction and runs without one. A transaction is committed or rolled back only
// by the invocation that began it; suspended transactions are restored on return.
type TransactionInterceptor struct {
	txManager tx.TransactionManager
}

// NewTransactionInterceptor creates a TransactionInterceptor.
func NewTransactionInterceptor(txManager tx.TransactionManager) *TransactionInterceptor {
	return &TransactionInterceptor{txManager: txManager}
}

func (i *TransactionInterceptor) Execute(ctx context.Context, cfg Config, cmd Command, next Next) (interface{}, error) {
	current, active := tx.FromContext(ctx)

	switch cfg.Propagation() {
	case PropagationNotSupported:
		if active {
			logger.Debugf("Propagation NOT_SUPPORTED: suspending transaction %s for %s.", current.ID(), cmd.Name())
		}
		return next(withTxScope(tx.WithoutTx(ctx), nil), cfg, cmd)

	case PropagationRequiresNew:
		if active {
			logger.Debugf("Propagation REQUIRES_NEW: suspending transaction %s for %s.", current.ID(), cmd.Name())
		}
		return i.runInNewTransaction(tx.WithoutTx(ctx), cfg, cmd, next)

	default:
		if active {
			logger.Debugf("Propagation PROPAGATION_CONTEXT: %s joins transaction %s.", cmd.Name(), current.ID())
			return next(ctx, cfg, cmd)
		}
		return i.runInNewTransaction(ctx, cfg, cmd, next)
	}
}

func (i *TransactionInterceptor) runInNewTransaction(ctx context.Context, cfg Config, cmd Command, next Next) (result interface{}, err error) {
	t, err := i.txManager.Begin(ctx)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, fmt.Sprintf("failed to begin transaction for %s", cmd.Name()), err, true)
	}
	scope := &txScope{tx: t, listeners: newTransactionListeners()}
	txCtx := withTxScope(tx.WithTx(ctx, t), scope)
	logger.Debugf("Began transaction %s for %s.", t.ID(), cmd.Name())

	defer func() {
		if r := recover(); r != nil {
			i.rollback(ctx, scope, cmd)
			panic(r)
		}
	}()

	result, err = next(txCtx, cfg, cmd)
	if err != nil {
		i.rollback(ctx, scope, cmd)
		return nil, err
	}

	if err := scope.listeners.fire(txCtx, BeforeCommit); err != nil {
		i.rollback(ctx, scope, cmd)
		return nil, err
	}
	if err := i.txManager.Commit(t); err != nil {
		_ = scope.listeners.fire(ctx, AfterRollback)
		return nil, exception.NewFlowError(moduleName, fmt.Sprintf("failed to commit transaction %s for %s", t.ID(), cmd.Name()), err, true)
	}
	logger.Debugf("Committed transaction %s for %s.", t.ID(), cmd.Name())
	_ = scope.listeners.fire(ctx, AfterCommit)
	return result, nil
}

func (i *TransactionInterceptor) rollback(ctx context.Context, scope *txScope, cmd Command) {
	if err := i.txManager.Rollback(scope.tx); err != nil {
		logger.Errorf("Failed to roll back transaction %s for %s: %v", scope.tx.ID(), cmd.Name(), err)
	} else {
		logger.Debugf("Rolled back transaction %s for %s.", scope.tx.ID(), cmd.Name())
	}
	_ = scope.listeners.fire(ctx, AfterRollback)
}
