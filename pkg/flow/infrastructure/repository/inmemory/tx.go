package inmemory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Tx is an in-memory transaction. Writes are applied immediately and undone on
// rollback; there is no isolation between concurrent transactions.
type Tx struct {
	id   string
	mu   sync.Mutex
	undo []func()
	done bool
}

// ExecuteUpdate is not supported by the in-memory store; it does nothing.
func (t *Tx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	logger.Debugf("In-memory tx %s: ExecuteUpdate(%s, %s) ignored.", t.id, operation, tableName)
	return 0, nil
}

// ID identifies the transaction.
func (t *Tx) ID() string { return t.id }

func (t *Tx) record(undo func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.done {
		t.undo = append(t.undo, undo)
	}
}

// TxManager begins in-memory transactions.
type TxManager struct{}

// NewTxManager creates a TxManager.
func NewTxManager() *TxManager {
	return &TxManager{}
}

// Begin starts a transaction.
func (m *TxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	return &Tx{id: "mem-" + uuid.NewString()}, nil
}

// Commit forgets the undo log.
func (m *TxManager) Commit(t tx.Tx) error {
	mt, err := asTx(t)
	if err != nil {
		return err
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.done {
		return fmt.Errorf("transaction %s already completed", mt.id)
	}
	mt.done = true
	mt.undo = nil
	return nil
}

// Rollback undoes the transaction's writes, newest first.
func (m *TxManager) Rollback(t tx.Tx) error {
	mt, err := asTx(t)
	if err != nil {
		return err
	}
	mt.mu.Lock()
	if mt.done {
		mt.mu.Unlock()
		return fmt.Errorf("transaction %s already completed", mt.id)
	}
	mt.done = true
	undo := mt.undo
	mt.undo = nil
	mt.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func asTx(t tx.Tx) (*Tx, error) {
	mt, ok := t.(*Tx)
	if !ok {
		return nil, fmt.Errorf("in-memory transaction manager cannot complete %T", t)
	}
	return mt, nil
}

var _ tx.Tx = (*Tx)(nil)
var _ tx.TransactionManager = (*TxManager)(nil)
