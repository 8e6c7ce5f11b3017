package migration

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// MigrationsFS returns the job table migrations, one directory per database type.
func MigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to open embedded migrations: %v", err)
	}
	return subFS
}
