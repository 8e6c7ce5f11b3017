// Package test holds testify mocks shared by the engine's package tests.
package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
)

// MockTx is a testify mock of tx.Tx.
type MockTx struct {
	mock.Mock
	// Name is returned by ID; it is not recorded as a call.
	Name string
}

// NewMockTx returns a MockTx identified by name.
func NewMockTx(name string) *MockTx {
	return &MockTx{Name: name}
}

// ExecuteUpdate records the call and returns the configured values.
func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

// ID returns Name.
func (m *MockTx) ID() string {
	return m.Name
}

// MockTxManager is a testify mock of tx.TransactionManager.
type MockTxManager struct {
	mock.Mock
}

// Begin records the call and returns the configured transaction or error.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit records the call.
func (m *MockTxManager) Commit(t tx.Tx) error {
	return m.Called(t).Error(0)
}

// Rollback records the call.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	return m.Called(t).Error(0)
}

var _ tx.Tx = (*MockTx)(nil)
var _ tx.TransactionManager = (*MockTxManager)(nil)
