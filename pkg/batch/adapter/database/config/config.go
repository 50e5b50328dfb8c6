// Package config holds the decoded form of one entry under billcache.database.
package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string            `yaml:"type" mapstructure:"type"`         // Database type ("postgres", "mysql", "sqlite").
	Host     string            `yaml:"host" mapstructure:"host"`         // Database host address.
	Port     int               `yaml:"port" mapstructure:"port"`         // Database port number.
	Database string            `yaml:"database" mapstructure:"database"` // Database name, or file path for sqlite.
	User     string            `yaml:"user" mapstructure:"user"`         // Database user.
	Password string            `yaml:"password" mapstructure:"password"` // Database password.
	Schema   string            `yaml:"schema,omitempty" mapstructure:"schema"`
	Sslmode  string            `yaml:"sslmode" mapstructure:"sslmode"`
	Params   map[string]string `yaml:"params,omitempty" mapstructure:"params"` // Extra DSN parameters.
	// LogLevel is the GORM log level for this connection ("SILENT", "ERROR", "WARN", "INFO").
	LogLevel string     `yaml:"log_level" mapstructure:"log_level"`
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"` // Connection pool settings.
}
