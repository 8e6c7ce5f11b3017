// Package database abstracts datasource connections so the job store and the
// transaction manager do not depend on a particular database.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
)

// DBConnection is an open datasource.
type DBConnection interface {
	// Type returns the database type (e.g., "postgres").
	Type() string
	// Name returns the datasource name (e.g., "jobstore").
	Name() string
	// Close closes the connection pool.
	Close() error
	// IsTableNotExistError reports whether err says a table is missing.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the pool.
	RefreshConnection(ctx context.Context) error
	// Config returns the settings the connection was opened with.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB, for migrations.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver returns a healthy connection by datasource name.
type DBConnectionResolver interface {
	// ResolveDBConnection returns the named connection, reconnecting when it no longer answers.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider opens and caches connections of one database type.
type DBProvider interface {
	// GetConnection returns the named connection, opening it on first use.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and reopens the named connection.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes every connection opened by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
}

// DBProviderGroup is the fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
