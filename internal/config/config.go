package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the resolved cleanstep configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Runs     RunsConfig     `mapstructure:"runs"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Cleaning CleaningConfig `mapstructure:"cleaning"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Store backends.
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// StoreConfig selects and configures the artifact blob store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`

	// Root is the base directory of the file backend.
	Root string `mapstructure:"root"`

	Bucket          string  `mapstructure:"bucket"`
	Prefix          string  `mapstructure:"prefix"`
	Region          string  `mapstructure:"region"`
	Endpoint        string  `mapstructure:"endpoint"`
	Profile         string  `mapstructure:"profile"`
	AccessKeyID     string  `mapstructure:"access_key_id"`
	SecretAccessKey string  `mapstructure:"secret_access_key"`
	ForcePathStyle  bool    `mapstructure:"force_path_style"`
	UseSSL          bool    `mapstructure:"use_ssl"`
	RateLimit       float64 `mapstructure:"rate_limit"`
}

// RegistryConfig configures the registry database.
type RegistryConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RunsConfig configures local run directories.
type RunsConfig struct {
	Dir string `mapstructure:"dir"`
}

// RetryConfig bounds retries at the blob store boundary.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// CleaningConfig tunes the cleaning step.
type CleaningConfig struct {
	DatePolicy  string   `mapstructure:"date_policy"`
	DateLayouts []string `mapstructure:"date_layouts"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// Validate rejects unknown backends, drivers and policies.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Store.Root) == "" {
			errs = append(errs, errors.New("store.root is required for the file backend"))
		}
	case BackendS3:
		if c.Store.Bucket == "" {
			errs = append(errs, errors.New("store.bucket is required for the s3 backend"))
		}
	case BackendMinIO:
		if c.Store.Bucket == "" {
			errs = append(errs, errors.New("store.bucket is required for the minio backend"))
		}
		if c.Store.Endpoint == "" {
			errs = append(errs, errors.New("store.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unsupported backend %q", c.Store.Backend))
	}
	if c.Store.RateLimit < 0 {
		errs = append(errs, errors.New("store.rate_limit must be >= 0"))
	}

	switch c.Registry.Driver {
	case "sqlite":
		if c.Registry.Path == "" && c.Registry.URL == "" {
			errs = append(errs, errors.New("registry.path or registry.url is required"))
		}
	case "postgres":
		if c.Registry.URL == "" {
			errs = append(errs, errors.New("registry.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.driver: unsupported driver %q", c.Registry.Driver))
	}

	if c.Runs.Dir == "" {
		errs = append(errs, errors.New("runs.dir is required"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry intervals must not be negative"))
	}

	switch c.Cleaning.DatePolicy {
	case "strict", "lenient":
	default:
		errs = append(errs, fmt.Errorf("cleaning.date_policy: unsupported policy %q", c.Cleaning.DatePolicy))
	}

	return errors.Join(errs...)
}
