// Package mysql provides the gorm DBProvider for MySQL.
package mysql

import (
	"fmt"
	"time"

	drv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
)

// Type is the datasource type handled by this package.
const Type = "mysql"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the go-sql-driver DSN. Times are parsed into time.Time in UTC.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	mc := drv.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	if len(c.Params) > 0 {
		mc.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

// Provider implements database.DBProvider for MySQL.
type Provider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &Provider{BaseProvider: gormadapter.NewBaseProvider(cfg, Type)}
}
