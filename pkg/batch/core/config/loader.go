package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig      // EmbeddedConfig contains the raw bytes of the configuration file.
	Expander       EnvironmentExpander `optional:"true"`
	EnvFilePath    string              `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from the embedded YAML and environment variables.
//
// Parameters:
//
//	envFilePath: The path to the .env file.
//	embeddedConfig: The embedded configuration bytes.
//	expander: Expands ${VAR} placeholders in the YAML before parsing. May be nil.
//
// Returns:
//
//	A pointer to the loaded Config and an error if loading fails.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Defaults.
	cfg := NewConfig()

	raw := []byte(embeddedConfig)
	if expander != nil {
		expanded, err := expander.Expand(raw)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false)
		}
		raw = expanded
	}

	// 2. Embedded YAML into a separate struct so zero values can be told apart from defaults.
	var yamlConfig Config
	if err := yaml.Unmarshal(raw, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false)
	}

	// 3. Merge.
	mergeConfig(cfg, &yamlConfig)

	// 4. Environment overrides.
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads, validates and provides *Config.
// It also applies the logging settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	logger.SetFormat(cfg.BillCache.System.Logging.Format)
	logger.SetLogLevel(cfg.BillCache.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.BillCache.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML, .env and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, NewOsEnvironmentExpander())
}

// Validate checks cross references between datasets, workflows and upstream queries.
// All problems are reported together.
func Validate(cfg *Config) error {
	var result *multierror.Error
	bc := &cfg.BillCache

	if bc.Batch.WorkerPoolSize < 1 {
		result = multierror.Append(result, fmt.Errorf("batch.worker_pool_size must be at least 1, got %d", bc.Batch.WorkerPoolSize))
	}
	if bc.Batch.Retry.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("batch.retry.max_attempts must be at least 1, got %d", bc.Batch.Retry.MaxAttempts))
	}

	workflows := make(map[string]WorkflowConfig, len(bc.Workflows))
	for _, wf := range bc.Workflows {
		if wf.Code == "" {
			result = multierror.Append(result, fmt.Errorf("workflow with empty code"))
			continue
		}
		if _, dup := workflows[wf.Code]; dup {
			result = multierror.Append(result, fmt.Errorf("workflow '%s' declared twice", wf.Code))
		}
		workflows[wf.Code] = wf

		switch wf.RepeatPolicy {
		case RepeatPolicyOnce, RepeatPolicyRepeatUntilZero:
		default:
			result = multierror.Append(result, fmt.Errorf("workflow '%s': unknown repeat_policy '%s'", wf.Code, wf.RepeatPolicy))
		}
		if wf.MaxIterations < 1 {
			result = multierror.Append(result, fmt.Errorf("workflow '%s': max_iterations must be at least 1", wf.Code))
		}
		switch wf.Action.Type {
		case ActionTypeRefresh:
			if _, ok := cfg.Dataset(wf.Action.Dataset); !ok {
				result = multierror.Append(result, fmt.Errorf("workflow '%s': refresh action references unknown dataset '%s'", wf.Code, wf.Action.Dataset))
			}
		case ActionTypeSQL:
			if wf.Action.ActionQuery == "" || wf.Action.CountQuery == "" {
				result = multierror.Append(result, fmt.Errorf("workflow '%s': sql action needs action_query and count_query", wf.Code))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("workflow '%s': unknown action type '%s'", wf.Code, wf.Action.Type))
		}
	}

	seen := make(map[string]struct{}, len(bc.Datasets))
	for _, ds := range bc.Datasets {
		if ds.Key == "" {
			result = multierror.Append(result, fmt.Errorf("dataset with empty key"))
			continue
		}
		if _, dup := seen[ds.Key]; dup {
			result = multierror.Append(result, fmt.Errorf("dataset '%s' declared twice", ds.Key))
		}
		seen[ds.Key] = struct{}{}

		if len(ds.Queries) == 0 {
			result = multierror.Append(result, fmt.Errorf("dataset '%s': no upstream queries", ds.Key))
		}
		for _, q := range ds.Queries {
			if _, ok := bc.Upstream.Queries[q]; !ok {
				result = multierror.Append(result, fmt.Errorf("dataset '%s': upstream query '%s' is not defined", ds.Key, q))
			}
		}
		if ds.WorkflowCode != "" {
			wf, ok := workflows[ds.WorkflowCode]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("dataset '%s': unknown workflow '%s'", ds.Key, ds.WorkflowCode))
			} else if wf.Action.Type != ActionTypeRefresh || wf.Action.Dataset != ds.Key {
				result = multierror.Append(result, fmt.Errorf("dataset '%s': workflow '%s' must be a refresh action for this dataset", ds.Key, ds.WorkflowCode))
			}
		}
	}

	return result.ErrorOrNil()
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite destConfig when they are not zero values.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeBillCacheConfig(&destConfig.BillCache, &sourceConfig.BillCache)
}

func mergeBillCacheConfig(dest, source *BillCacheConfig) {
	mergeSystemConfig(&dest.System, &source.System)
	mergeBatchConfig(&dest.Batch, &source.Batch)

	if source.Infrastructure.CacheDBRef != "" {
		dest.Infrastructure.CacheDBRef = source.Infrastructure.CacheDBRef
	}
	if source.Infrastructure.UpstreamDBRef != "" {
		dest.Infrastructure.UpstreamDBRef = source.Infrastructure.UpstreamDBRef
	}
	if source.Infrastructure.MetricsAddr != "" {
		dest.Infrastructure.MetricsAddr = source.Infrastructure.MetricsAddr
	}
	if source.Infrastructure.OTLPEndpoint != "" {
		dest.Infrastructure.OTLPEndpoint = source.Infrastructure.OTLPEndpoint
	}
	if source.Infrastructure.OTLPProtocol != "" {
		dest.Infrastructure.OTLPProtocol = source.Infrastructure.OTLPProtocol
	}
	if source.Infrastructure.OTLPMetricIntervalSeconds > 0 {
		dest.Infrastructure.OTLPMetricIntervalSeconds = source.Infrastructure.OTLPMetricIntervalSeconds
	}
	if source.Infrastructure.SkipMigrations {
		dest.Infrastructure.SkipMigrations = true
	}

	for id, q := range source.Upstream.Queries {
		dest.Upstream.Queries[id] = q
	}
	if source.Upstream.RateLimitPerSecond != 0 {
		dest.Upstream.RateLimitPerSecond = source.Upstream.RateLimitPerSecond
	}
	if source.Upstream.RateLimitBurst != 0 {
		dest.Upstream.RateLimitBurst = source.Upstream.RateLimitBurst
	}

	if source.Archive.Enabled {
		dest.Archive.Enabled = true
	}
	if source.Archive.StorageRef != "" {
		dest.Archive.StorageRef = source.Archive.StorageRef
	}
	if source.Archive.Bucket != "" {
		dest.Archive.Bucket = source.Archive.Bucket
	}
	if source.Archive.Prefix != "" {
		dest.Archive.Prefix = source.Archive.Prefix
	}
	if source.Archive.Compression != "" {
		dest.Archive.Compression = source.Archive.Compression
	}

	if source.Datasets != nil {
		dest.Datasets = source.Datasets
	}
	if source.Workflows != nil {
		dest.Workflows = source.Workflows
	}
	for key, value := range source.AdaptorConfigs {
		dest.AdaptorConfigs[key] = value
	}
	for key, value := range source.StorageConfigs {
		dest.StorageConfigs[key] = value
	}
}

func mergeBatchConfig(dest, source *BatchConfig) {
	if source.WorkerPoolSize != 0 {
		dest.WorkerPoolSize = source.WorkerPoolSize
	}
	if source.UpstreamTimeoutSeconds != 0 {
		dest.UpstreamTimeoutSeconds = source.UpstreamTimeoutSeconds
	}
	if source.InterIterationDelaySeconds != 0 {
		dest.InterIterationDelaySeconds = source.InterIterationDelaySeconds
	}
	if source.MaxRunDurationMinutes != 0 {
		dest.MaxRunDurationMinutes = source.MaxRunDurationMinutes
	}
	if source.StatusHistorySize != 0 {
		dest.StatusHistorySize = source.StatusHistorySize
	}
	mergeRetryConfig(&dest.Retry, &source.Retry)
}

func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.MaxInterval != 0 {
		dest.MaxInterval = source.MaxInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
	if source.Jitter != 0 {
		dest.Jitter = source.Jitter
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.ServiceName != "" {
		dest.ServiceName = source.ServiceName
	}
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
	if source.Logging.Format != "" {
		dest.Logging.Format = source.Logging.Format
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to build the variable name, e.g. BILLCACHE_BATCH_WORKER_POOL_SIZE.
// Slices and maps are left to YAML.
//
// Parameters:
//
//	val: The reflect.Value of the struct to populate.
//	prefix: The prefix for environment variable names.
//
// Returns:
//
//	An error if any field cannot be set.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch field.Kind() {
		case reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case reflect.Slice, reflect.Map:
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
