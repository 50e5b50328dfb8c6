// Package filesystem embeds the cache database migrations, one directory per dialect.
package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// ProvideMigrationsFS returns the embedded migrations rooted at the dialect directories
// ("sqlite", "postgres", "mysql").
func ProvideMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create sub filesystem for migrations: %v", err)
	}
	return subFS
}
