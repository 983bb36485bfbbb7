package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify store defaults
		assert.Equal(t, BackendFile, cfg.Store.Backend)
		assert.Equal(t, filepath.Join(".cleanstep", "artifacts"), cfg.Store.Root)
		assert.True(t, cfg.Store.UseSSL)
		assert.Zero(t, cfg.Store.RateLimit)

		// Verify registry defaults
		assert.Equal(t, "sqlite", cfg.Registry.Driver)
		assert.Equal(t, filepath.Join(".cleanstep", "registry.db"), cfg.Registry.Path)

		// Verify retry defaults: single attempt
		assert.Equal(t, 1, cfg.Retry.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
		assert.Equal(t, 5*time.Second, cfg.Retry.MaxInterval)

		// Verify cleaning defaults
		assert.Equal(t, "strict", cfg.Cleaning.DatePolicy)
		assert.Empty(t, cfg.Cleaning.DateLayouts)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.NoError(t, cfg.Validate())
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"store": map[string]any{
				"backend": "minio",
				"bucket":  "artifacts",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, BackendMinIO, cfg.Store.Backend)
		assert.Equal(t, "artifacts", cfg.Store.Bucket)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Non-overridden values remain default
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, "sqlite", cfg.Registry.Driver)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("CLEANSTEP_LOG_LEVEL", "warn")
		t.Setenv("CLEANSTEP_BACKEND", "s3")
		t.Setenv("CLEANSTEP_STORE_BUCKET", "ml-artifacts")
		t.Setenv("CLEANSTEP_STORE_FORCE_PATH_STYLE", "true")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, BackendS3, cfg.Store.Backend)
		assert.Equal(t, "ml-artifacts", cfg.Store.Bucket)
		assert.True(t, cfg.Store.ForcePathStyle)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("CLEANSTEP_DATE_POLICY", "lenient")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "lenient", cfg.Cleaning.DatePolicy)

		// Runtime override should win over env
		cfg, err = Load(ctx, map[string]any{
			"cleaning": map[string]any{"date_policy": "strict"},
		})
		require.NoError(t, err)
		assert.Equal(t, "strict", cfg.Cleaning.DatePolicy)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	ctx := context.Background()
	defer SetConfigFile("")

	path := filepath.Join(t.TempDir(), "cleanstep.yaml")
	content := `store:
  backend: file
  root: /srv/artifacts
  prefix: team-a
registry:
  path: /srv/registry.db
retry:
  max_attempts: 3
  initial_interval: 250ms
cleaning:
  date_layouts:
    - "02/01/2006"
logging:
  profile: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	SetConfigFile(path)
	t.Setenv("CLEANSTEP_MAX_ATTEMPTS", "5")

	cfg, err := Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "/srv/artifacts", cfg.Store.Root)
	assert.Equal(t, "team-a", cfg.Store.Prefix)
	assert.Equal(t, "/srv/registry.db", cfg.Registry.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, []string{"02/01/2006"}, cfg.Cleaning.DateLayouts)
	assert.Equal(t, "CONSOLE", cfg.Logging.Profile)

	// Env beats file
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	defer SetConfigFile("")
	SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDurationParsing(t *testing.T) {
	t.Setenv("CLEANSTEP_RETRY_INITIAL_INTERVAL", "2s")
	t.Setenv("CLEANSTEP_RETRY_MAX_INTERVAL", "1m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, time.Minute, cfg.Retry.MaxInterval)
}

func TestGetConfig(t *testing.T) {
	cfg, err := Load(context.Background(), map[string]any{
		"runs": map[string]any{"dir": "/tmp/cleanstep-runs"},
	})
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Runs.Dir, retrieved.Runs.Dir)
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "file", v.GetString("store.backend"))
	assert.Equal(t, "sqlite", v.GetString("registry.driver"))
	assert.Equal(t, 1, v.GetInt("retry.max_attempts"))
	assert.Equal(t, "strict", v.GetString("cleaning.date_policy"))
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Equal(t, "structured", v.GetString("logging.profile"))
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "CLEANSTEP_", "all specs should have CLEANSTEP_ prefix")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = true
	}
	assert.True(t, names["CLEANSTEP_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(context.Background())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "gcs" }, wantErr: "unsupported backend"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Store.Backend = BackendS3 }, wantErr: "store.bucket"},
		{name: "minio without endpoint", mutate: func(c *Config) {
			c.Store.Backend = BackendMinIO
			c.Store.Bucket = "b"
		}, wantErr: "store.endpoint"},
		{name: "unknown driver", mutate: func(c *Config) { c.Registry.Driver = "mysql" }, wantErr: "unsupported driver"},
		{name: "postgres without url", mutate: func(c *Config) { c.Registry.Driver = "postgres" }, wantErr: "registry.url"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "unknown date policy", mutate: func(c *Config) { c.Cleaning.DatePolicy = "loose" }, wantErr: "date_policy"},
		{name: "negative rate", mutate: func(c *Config) { c.Store.RateLimit = -1 }, wantErr: "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
