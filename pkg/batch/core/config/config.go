// Package config provides the configuration structures for billcache and the loader that
// fills them from embedded YAML, a .env file and environment variables.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// RepeatPolicy values accepted in workflow configuration.
const (
	RepeatPolicyOnce            = "once"
	RepeatPolicyRepeatUntilZero = "repeat-until-zero"
)

// Workflow action types accepted in workflow configuration.
const (
	// ActionTypeRefresh refreshes a dataset; its remaining count is always zero.
	ActionTypeRefresh = "refresh"
	// ActionTypeSQL runs an action statement and then a count query against a named connection.
	ActionTypeSQL = "sql"
)

// RetryConfig holds the retry settings for upstream calls.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts is the total number of attempts, including the first.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the first backoff interval in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval caps the backoff interval in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor multiplies the interval after each attempt.
	Jitter          float64 `yaml:"jitter"`           // Jitter is the random fraction (0..1) applied to each interval.
}

// BatchConfig holds the settings of the refresh engine.
type BatchConfig struct {
	// WorkerPoolSize bounds how many dataset refreshes run at the same time.
	WorkerPoolSize int `yaml:"worker_pool_size"`
	// UpstreamTimeoutSeconds bounds a single upstream query.
	UpstreamTimeoutSeconds int `yaml:"upstream_timeout_seconds"`
	// InterIterationDelaySeconds is the wait between repeat-until-zero iterations.
	InterIterationDelaySeconds int `yaml:"inter_iteration_delay_seconds"`
	// MaxRunDurationMinutes is how long a run token may be held before it is reclaimed.
	MaxRunDurationMinutes int `yaml:"max_run_duration_minutes"`
	// StatusHistorySize is the default number of runs returned by status queries.
	StatusHistorySize int `yaml:"status_history_size"`
	// Retry is the upstream retry configuration.
	Retry RetryConfig `yaml:"retry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// ServiceName is reported in traces and metrics.
	ServiceName string `yaml:"service_name"`
	// Timezone is used to compute the current month start (e.g., "UTC", "Asia/Jakarta").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig names the connections and endpoints the service depends on.
type InfrastructureConfig struct {
	// CacheDBRef is the database connection that holds cache tables, batch_log and workflow config.
	CacheDBRef string `yaml:"cache_db_ref"`
	// UpstreamDBRef is the database connection used by the upstream source adapter.
	UpstreamDBRef string `yaml:"upstream_db_ref"`
	// MetricsAddr is the listen address of the Prometheus endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// OTLPEndpoint is the OTLP collector receiving spans and metrics. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// OTLPProtocol is "http" (default) or "grpc".
	OTLPProtocol string `yaml:"otlp_protocol"`
	// OTLPMetricIntervalSeconds is how often metrics are pushed to the collector.
	OTLPMetricIntervalSeconds int `yaml:"otlp_metric_interval_seconds"`
	// SkipMigrations disables applying the embedded schema migrations on startup.
	SkipMigrations bool `yaml:"skip_migrations"`
}

// DatasetConfig declares one cached summary dataset.
type DatasetConfig struct {
	// Key is the stable dataset key (e.g. "nocs-balance-summary").
	Key string `yaml:"key"`
	// Aggregator selects the summary computer aggregation. Defaults to Key.
	Aggregator string `yaml:"aggregator"`
	// Queries lists the upstream query ids the aggregator consumes, in order.
	Queries []string `yaml:"queries"`
	// Schedule is a cron expression or descriptor ("@every 1h"). Empty means on-demand only.
	Schedule string `yaml:"schedule"`
	// WorkflowCode routes refreshes of this dataset through the workflow executor.
	WorkflowCode string `yaml:"workflow_code"`
}

// ActionConfig declares what a workflow step does.
type ActionConfig struct {
	// Type is "refresh" or "sql".
	Type string `yaml:"type"`
	// Dataset is the dataset refreshed by a "refresh" action.
	Dataset string `yaml:"dataset"`
	// DBRef is the connection used by a "sql" action.
	DBRef string `yaml:"db_ref"`
	// ActionQuery is executed once per iteration by a "sql" action.
	ActionQuery string `yaml:"action_query"`
	// CountQuery returns the remaining count after the action query ran.
	CountQuery string `yaml:"count_query"`
}

// WorkflowConfig seeds one workflow into the registry and binds its step action.
type WorkflowConfig struct {
	Code          string       `yaml:"code"`
	Name          string       `yaml:"name"`
	Description   string       `yaml:"description"`
	RepeatPolicy  string       `yaml:"repeat_policy"`
	MaxIterations int          `yaml:"max_iterations"`
	Enabled       bool         `yaml:"enabled"`
	SortOrder     int          `yaml:"sort_order"`
	Action        ActionConfig `yaml:"action"`
}

// UpstreamConfig holds upstream query text and call limits.
type UpstreamConfig struct {
	// Queries maps a query id to its SQL text.
	Queries map[string]string `yaml:"queries"`
	// RateLimitPerSecond limits query starts against upstream. Zero disables limiting.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// ArchiveConfig controls the Parquet snapshot archive.
type ArchiveConfig struct {
	// Enabled turns archiving on.
	Enabled bool `yaml:"enabled"`
	// StorageRef is the storage connection archives are written to.
	StorageRef string `yaml:"storage_ref"`
	// Bucket overrides the connection's default bucket.
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to every archive object name.
	Prefix string `yaml:"prefix"`
	// Compression is the Parquet codec ("SNAPPY", "GZIP", "UNCOMPRESSED").
	Compression string `yaml:"compression"`
}

// BillCacheConfig holds all configuration under the "billcache" top-level key.
type BillCacheConfig struct {
	System         SystemConfig         `yaml:"system"`
	Batch          BatchConfig          `yaml:"batch"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Datasets       []DatasetConfig      `yaml:"datasets"`
	Workflows      []WorkflowConfig     `yaml:"workflows"`
	// AdaptorConfigs holds the named database connections, decoded by the database adapter.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds the named storage connections, decoded by the storage adapter.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	BillCache BillCacheConfig `yaml:"billcache"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// Dataset returns the dataset declaration for key.
func (c *Config) Dataset(key string) (DatasetConfig, bool) {
	for _, d := range c.BillCache.Datasets {
		if d.Key == key {
			return d, true
		}
	}
	return DatasetConfig{}, false
}

// NewConfig returns a new instance of Config with default values.
//
// Returns:
//
//	A pointer to a new Config instance initialized with default settings.
func NewConfig() *Config {
	return &Config{
		BillCache: BillCacheConfig{
			System: SystemConfig{
				ServiceName: "billcache",
				Timezone:    "UTC",
				Logging:     LoggingConfig{Level: "INFO", Format: "console"},
			},
			Batch: BatchConfig{
				WorkerPoolSize:             4,
				UpstreamTimeoutSeconds:     1800,
				InterIterationDelaySeconds: 10,
				MaxRunDurationMinutes:      180,
				StatusHistorySize:          20,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 2000,
					MaxInterval:     60000,
					Factor:          2.0,
					Jitter:          0.2,
				},
			},
			Infrastructure: InfrastructureConfig{
				CacheDBRef:                "cache",
				UpstreamDBRef:             "upstream",
				MetricsAddr:               ":9090",
				OTLPProtocol:              "http",
				OTLPMetricIntervalSeconds: 15,
			},
			Upstream: UpstreamConfig{
				Queries:        map[string]string{},
				RateLimitBurst: 1,
			},
			Archive: ArchiveConfig{
				Prefix:      "snapshots",
				Compression: "SNAPPY",
			},
			AdaptorConfigs: map[string]interface{}{},
			StorageConfigs: map[string]interface{}{},
		},
	}
}
