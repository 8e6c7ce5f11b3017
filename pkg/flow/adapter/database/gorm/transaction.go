package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
)

// GormTxAdapter is an open gorm transaction.
type GormTxAdapter struct {
	db *gorm.DB
	id string
}

// GormDB returns the transaction's *gorm.DB.
func (t *GormTxAdapter) GormDB() *gorm.DB {
	return t.db
}

// ID identifies the transaction in logs.
func (t *GormTxAdapter) ID() string {
	return t.id
}

// ExecuteUpdate implements tx.TxExecutor on the transaction's *gorm.DB.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case tx.OperationCreate:
		result = db.Create(model)
	case tx.OperationUpdate:
		if len(query) == 0 {
			return 0, fmt.Errorf("UPDATE on %s requires conditions", tableName)
		}
		result = db.Where(query).Updates(model)
	case tx.OperationDelete:
		if len(query) == 0 {
			return 0, fmt.Errorf("DELETE on %s requires conditions", tableName)
		}
		result = db.Where(query).Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GormTransactionManager implements tx.TransactionManager on a named datasource.
type GormTransactionManager struct {
	resolve func(ctx context.Context) (*gorm.DB, error)
}

// NewGormTransactionManager resolves the datasource dbName on every Begin,
// so a reconnect by the resolver is picked up.
func NewGormTransactionManager(resolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{resolve: func(ctx context.Context) (*gorm.DB, error) {
		conn, err := resolver.ResolveDBConnection(ctx, dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", dbName, err)
		}
		gc, ok := conn.(Connection)
		if !ok {
			return nil, fmt.Errorf("DB connection '%s' is not backed by gorm (%T)", dbName, conn)
		}
		return gc.GormDB(), nil
	}}
}

// NewGormTransactionManagerForDB begins transactions directly on db.
func NewGormTransactionManagerForDB(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{resolve: func(context.Context) (*gorm.DB, error) { return db, nil }}
}

func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	db, err := m.resolve(ctx)
	if err != nil {
		return nil, err
	}
	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}
	gormTx := db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx, id: uuid.NewString()}, nil
}

func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db.Commit().Error
}

func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db.Rollback().Error
}

var (
	_ tx.TransactionManager = (*GormTransactionManager)(nil)
	_ tx.Tx                 = (*GormTxAdapter)(nil)
	_ Connection            = (*GormTxAdapter)(nil)
)
