// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
// The cache database can run on SQLite for single-node deployments and tests.
package sqlite

import (
	"errors"
	"sort"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/billcache/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/billcache/pkg/batch/core/config"
)

// ProviderType is the billcache.database type handled here.
const ProviderType = "sqlite"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the SQLite DSN: the file path plus any extra params.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if len(c.Params) == 0 {
		return c.Database
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+c.Params[k])
	}
	return c.Database + "?" + strings.Join(pairs, "&")
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new database.DBProvider for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, ProviderType)}
}
