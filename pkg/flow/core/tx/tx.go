// Package tx abstracts transaction demarcation for the command pipeline.
// The transaction interceptor begins, commits and rolls back through TransactionManager;
// stores find the active transaction on the context.
package tx

import (
	"context"
	"database/sql"
)

// Operation names accepted by TxExecutor.ExecuteUpdate.
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// TxExecutor runs simple writes inside the current transaction.
type TxExecutor interface {
	// ExecuteUpdate performs an INSERT, UPDATE or DELETE against tableName.
	//
	// model: The struct (or pointer) to create, the update values, or the model type to delete.
	// operation: One of OperationCreate, OperationUpdate, OperationDelete.
	// query: Equality conditions for UPDATE and DELETE, combined with AND.
	// Returns: The number of affected rows.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)
}

// Tx is an open transaction.
type Tx interface {
	TxExecutor
	// ID identifies the transaction in logs.
	ID() string
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new transaction. It never joins an existing one; joining is
	// decided by the caller from the context.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit persists the changes made in tx.
	Commit(tx Tx) error
	// Rollback discards the changes made in tx.
	Rollback(tx Tx) error
}

type txKey struct{}

// WithTx returns a context carrying tx as the active transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// WithoutTx returns a context with no active transaction.
// Used to suspend an outer transaction.
func WithoutTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, nil)
}

// FromContext returns the active transaction, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
