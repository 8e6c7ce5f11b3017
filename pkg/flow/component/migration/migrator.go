// Package migration maintains the job table schema with golang-migrate.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Migrator applies or reverts migrations read from an fs.FS.
type Migrator interface {
	// Up applies all pending migrations found under path.
	// tableName is the table golang-migrate records applied versions in.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down reverts every applied migration.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a Migrator for dbConn.
// golang-migrate closes the connection pool when it finishes, so callers reconnect afterwards.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

func (m *migratorImpl) databaseDriver(ctx context.Context, tableName string) (migratedb.Driver, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) instance(ctx context.Context, migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	dbDriver, err := m.databaseDriver(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *migratorImpl) run(ctx context.Context, migrationFS fs.FS, path string, direction string, tableName string) error {
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", direction, path, tableName)

	mInstance, err := m.instance(ctx, migrationFS, path, tableName)
	if err != nil {
		return err
	}
	defer mInstance.Close()

	var migrateErr error
	switch direction {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", direction)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if version, dirty, versionErr := mInstance.Version(); versionErr == nil {
			logger.Errorf("Migration '%s' failed at version %d (dirty: %t).", direction, version, dirty)
		}
		return fmt.Errorf("migration '%s' failed (DB: %s, Path: %s): %w", direction, m.dbType, path, migrateErr)
	}

	if version, _, err := mInstance.Version(); err == nil {
		logger.Infof("Migration '%s' completed. Schema version: %d.", direction, version)
	} else {
		logger.Infof("Migration '%s' completed.", direction)
	}
	return nil
}

func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(ctx, migrationFS, path, "up", tableName)
}

func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(ctx, migrationFS, path, "down", tableName)
}
