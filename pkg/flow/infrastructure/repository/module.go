// Package repository selects the Job Store backing the engine from the
// datasource named by riptide.job_store.datasource_ref.
package repository

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/adapter/database"
	dbconfig "github.com/tigerroll/riptide/pkg/flow/adapter/database/config"
	gormadapter "github.com/tigerroll/riptide/pkg/flow/adapter/database/gorm"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	domainrepo "github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/inmemory"
	sqlstore "github.com/tigerroll/riptide/pkg/flow/infrastructure/repository/sql"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// StoreParams are the inputs of NewJobStore.
type StoreParams struct {
	fx.In
	Cfg      *config.Config
	StoreCfg config.JobStoreConfig
	Resolver database.DBConnectionResolver `optional:"true"`
}

// StoreResult is the job store and the transaction manager that goes with it.
type StoreResult struct {
	fx.Out
	Store     domainrepo.JobStore
	TxManager tx.TransactionManager
}

// NewJobStore returns the in-memory store for a "dummy" datasource and the
// gorm store for any database type.
func NewJobStore(p StoreParams) (StoreResult, error) {
	name := p.StoreCfg.DatasourceRef
	dsCfg, err := dbconfig.Lookup(p.Cfg.Riptide.Datasources, name)
	if err != nil {
		return StoreResult{}, exception.NewConfigurationError("job_store", "job store datasource is not usable", err)
	}

	if dsCfg.Type == dbconfig.TypeDummy {
		logger.Warnf("Using the in-memory job store: jobs are not shared across engine instances and are lost on exit.")
		return StoreResult{Store: inmemory.NewJobStore(), TxManager: inmemory.NewTxManager()}, nil
	}
	if p.Resolver == nil {
		return StoreResult{}, exception.NewConfigurationError("job_store",
			fmt.Sprintf("datasource '%s' has type '%s' but no database adapter is installed", name, dsCfg.Type), nil)
	}
	logger.Infof("Using the %s job store on datasource '%s'.", dsCfg.Type, name)
	return StoreResult{
		Store:     sqlstore.NewJobStore(p.Resolver, name),
		TxManager: gormadapter.NewGormTransactionManager(p.Resolver, name),
	}, nil
}

// Module provides the JobStore and tx.TransactionManager.
var Module = fx.Options(
	fx.Provide(NewJobStore),
)
