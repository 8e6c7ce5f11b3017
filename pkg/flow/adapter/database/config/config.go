// Package config holds the settings of one datasource entry under riptide.datasources.
package config

import (
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/support/util/configbinder"
)

// TypeDummy selects the in-memory job store instead of a database.
const TypeDummy = "dummy"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string            `yaml:"type"`     // "postgres", "mysql", "sqlite" or "dummy".
	Host     string            `yaml:"host"`     // Database host address.
	Port     int               `yaml:"port"`     // Database port number.
	Database string            `yaml:"database"` // Database name, or the file path for SQLite.
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Schema   string            `yaml:"schema"`  // Search path for PostgreSQL.
	Sslmode  string            `yaml:"sslmode"` // SSL mode for PostgreSQL.
	Params   map[string]string `yaml:"params"`  // Extra DSN parameters.
	Pool     PoolConfig        `yaml:"pool"`
}

// Lookup decodes the datasource called name from the riptide.datasources map.
func Lookup(datasources map[string]interface{}, name string) (DatabaseConfig, error) {
	var cfg DatabaseConfig
	raw, ok := datasources[name]
	if !ok {
		return cfg, fmt.Errorf("datasource '%s' is not configured", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return cfg, fmt.Errorf("datasource '%s' must be a map, got %T", name, raw)
	}
	if err := configbinder.BindProperties(props, &cfg); err != nil {
		return cfg, fmt.Errorf("datasource '%s': %w", name, err)
	}
	if cfg.Type == "" {
		return cfg, fmt.Errorf("datasource '%s' has no type", name)
	}
	return cfg, nil
}
