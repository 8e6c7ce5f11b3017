// Package sqlite provides the gorm DBProvider for SQLite files.
package sqlite

import (
	"errors"
	"net/url"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
)

// Type is the datasource type handled by this package.
const Type = "sqlite"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the file path followed by the configured parameters.
// A busy timeout is added unless one is configured, since workers write concurrently.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	values := url.Values{}
	for k, v := range c.Params {
		values.Set(k, v)
	}
	if values.Get("_busy_timeout") == "" {
		values.Set("_busy_timeout", "5000")
	}
	sep := "?"
	if strings.Contains(c.Database, "?") {
		sep = "&"
	}
	return c.Database + sep + values.Encode()
}

// Provider implements database.DBProvider for SQLite.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the SQLite DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, Type)}
}
