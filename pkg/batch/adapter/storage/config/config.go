// Package config holds the decoded form of one entry under billcache.storage.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	coreConfig "github.com/tigerroll/billcache/pkg/batch/core/config"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("gcs", "local").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Path to a service account key for GCS. Empty uses ambient credentials.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

// Decode decodes the named entry of billcache.storage.
func Decode(cfg *coreConfig.Config, name string) (StorageConfig, error) {
	var storageCfg StorageConfig
	namedConfig, ok := cfg.BillCache.StorageConfigs[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration '%s' not found under billcache.storage", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &storageCfg,
		TagName: "yaml",
	})
	if err != nil {
		return storageCfg, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(namedConfig); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return storageCfg, nil
}
