// Package postgres provides the gorm DBProvider for PostgreSQL, connected through pgx.
package postgres

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
)

// Type is the datasource type handled by this package.
const Type = "postgres"

func init() {
	gormadapter.RegisterDialector(Type, Dialector)
}

// Dialector opens a pgx-backed *sql.DB for cfg and hands it to gorm.
func Dialector(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
	connConfig, err := pgx.ParseConfig(ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	if cfg.Schema != "" {
		connConfig.RuntimeParams["search_path"] = cfg.Schema
	}
	return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*connConfig)}), nil
}

// ConnectionString builds the keyword/value DSN understood by pgx. Empty settings are omitted.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	pairs := []struct{ key, value string }{
		{"host", c.Host},
		{"port", portString(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
		{"sslmode", sslmode},
	}
	parts := make([]string, 0, len(pairs)+len(c.Params))
	for _, p := range pairs {
		if p.value != "" {
			parts = append(parts, p.key+"="+p.value)
		}
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+c.Params[k])
	}
	return strings.Join(parts, " ")
}

func portString(port int) string {
	if port == 0 {
		return ""
	}
	return strconv.Itoa(port)
}

// Provider implements database.DBProvider for PostgreSQL.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the PostgreSQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, Type)}
}
