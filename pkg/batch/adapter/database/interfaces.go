// Package database defines the database contracts used by repositories, the upstream source
// adapter and SQL workflow actions. The GORM implementation lives in the gorm sub-package.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/billcache/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/billcache/pkg/batch/core/adapter"
)

// Row is one result row of a raw query, keyed by column name.
type Row map[string]interface{}

// DBExecutor defines the read and write operations shared by a connection and a transaction.
type DBExecutor interface {
	// ExecuteUpdate performs write operations ("CREATE", "UPDATE", "DELETE") on an entity or slice of entities.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an INSERT ... ON CONFLICT. With no updateColumns, conflicts are DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery reads rows matching the equality conditions in query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced reads rows with an optional free-form condition, ordering and limit.
	// where may be empty; args bind its placeholders.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, where string, args []interface{}, orderBy string, limit int) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)

	// ExecuteRaw runs a raw statement and returns the number of affected rows.
	ExecuteRaw(ctx context.Context, statement string, args ...interface{}) (rowsAffected int64, err error)

	// QueryRows runs a raw query and returns every row as a column map.
	QueryRows(ctx context.Context, query string, args ...interface{}) ([]Row, error)
}

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection // Close(), Type(), Name()
	DBExecutor

	// Transaction runs fn inside a database transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx DBExecutor) error) error
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the underlying pool.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a named database connection, reconnecting when it is no longer valid.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveDBConnection resolves a database connection instance by name.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides database connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g., "mysql").
	Type() string
	// ForceReconnect closes and re-establishes the connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx value group all DBProvider implementations are provided into.
const DBProviderGroup = "db_providers"
