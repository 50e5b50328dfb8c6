// Package mysql provides a GORM DBProvider implementation for MySQL databases.
// The upstream billing database is MySQL.
package mysql

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/billcache/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/billcache/pkg/batch/core/config"
)

// ProviderType is the billcache.database type handled here.
const ProviderType = "mysql"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the go-sql-driver DSN. Timestamps are parsed into time.Time in UTC.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	// Migration files hold several statements each.
	dc.MultiStatements = true
	if len(c.Params) > 0 {
		dc.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			dc.Params[k] = v
		}
	}
	return dc.FormatDSN()
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new database.DBProvider for MySQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, ProviderType)}
}
