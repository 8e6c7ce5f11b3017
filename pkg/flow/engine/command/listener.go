package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// CloseListener observes the closing of a command context.
//
// Closing runs before sessions are flushed and may still fail the context.
// Closed runs after a successful close. CloseFailure runs when the context
// closes with an exception.
type CloseListener interface {
	Closing(ctx context.Context, cctx *Context) error
	Closed(ctx context.Context, cctx *Context)
	CloseFailure(ctx context.Context, cctx *Context)
}

// CloseListenerFuncs adapts functions to CloseListener. Nil functions are skipped.
type CloseListenerFuncs struct {
	OnClosing      func(ctx context.Context, cctx *Context) error
	OnClosed       func(ctx context.Context, cctx *Context)
	OnCloseFailure func(ctx context.Context, cctx *Context)
}

func (f CloseListenerFuncs) Closing(ctx context.Context, cctx *Context) error {
	if f.OnClosing == nil {
		return nil
	}
	return f.OnClosing(ctx, cctx)
}

func (f CloseListenerFuncs) Closed(ctx context.Context, cctx *Context) {
	if f.OnClosed != nil {
		f.OnClosed(ctx, cctx)
	}
}

func (f CloseListenerFuncs) CloseFailure(ctx context.Context, cctx *Context) {
	if f.OnCloseFailure != nil {
		f.OnCloseFailure(ctx, cctx)
	}
}

// TransactionPhase is a point in a transaction's completion.
type TransactionPhase int

const (
	// BeforeCommit listeners run before commit. A failure rolls the transaction back.
	BeforeCommit TransactionPhase = iota
	// AfterCommit listeners run once the transaction committed. Failures are logged.
	AfterCommit
	// AfterRollback listeners run once the transaction rolled back. Failures are logged.
	AfterRollback
)

func (p TransactionPhase) String() string {
	switch p {
	case BeforeCommit:
		return "before-commit"
	case AfterCommit:
		return "after-commit"
	case AfterRollback:
		return "after-rollback"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TransactionListener is work bound to a transaction phase.
type TransactionListener func(ctx context.Context) error

// transactionListeners is the three-phase callback list of one transaction.
// Listeners run in registration order.
type transactionListeners struct {
	mu     sync.Mutex
	phases [3][]TransactionListener
}

func newTransactionListeners() *transactionListeners {
	return &transactionListeners{}
}

func (t *transactionListeners) add(phase TransactionPhase, l TransactionListener) {
	t.mu.Lock()
	t.phases[phase] = append(t.phases[phase], l)
	t.mu.Unlock()
}

func (t *transactionListeners) at(phase TransactionPhase, i int) (TransactionListener, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.phases[phase]) {
		return nil, false
	}
	return t.phases[phase][i], true
}

// fire runs the listeners of phase. Before-commit stops at the first failure;
// the other phases run every listener and return the aggregated failures.
// Listeners registered while firing run in the same pass.
func (t *transactionListeners) fire(ctx context.Context, phase TransactionPhase) error {
	var result *multierror.Error
	for i := 0; ; i++ {
		l, ok := t.at(phase, i)
		if !ok {
			break
		}
		if err := l(ctx); err != nil {
			if phase == BeforeCommit {
				return err
			}
			logger.Warnf("Transaction listener (%s) failed: %v", phase, err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
