// Package config loads cleanstep configuration.
//
// Precedence, lowest first: defaults, config file, CLEANSTEP_* environment
// variables, runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CLEANSTEP"

// FileName is the config file name searched for when no explicit path is set.
const FileName = "cleanstep"

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// envSpec maps an environment variable onto a config path.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile sets an explicit config file path. An empty path restores
// the default search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load resolves the configuration and stores it for GetConfig.
//
// Each override map is nested the same way as the config file; later maps
// win.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.root", filepath.Join(".cleanstep", "artifacts"))
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.prefix", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.profile", "")
	v.SetDefault("store.access_key_id", "")
	v.SetDefault("store.secret_access_key", "")
	v.SetDefault("store.force_path_style", false)
	v.SetDefault("store.use_ssl", true)
	v.SetDefault("store.rate_limit", 0)

	v.SetDefault("registry.driver", "sqlite")
	v.SetDefault("registry.path", filepath.Join(".cleanstep", "registry.db"))
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.auth_token", "")

	v.SetDefault("runs.dir", filepath.Join(".cleanstep", "runs"))

	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_interval", "500ms")
	v.SetDefault("retry.max_interval", "5s")

	v.SetDefault("cleaning.date_policy", "strict")
	v.SetDefault("cleaning.date_layouts", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, dir := range getUserConfigPaths() {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths returns the per-user config directories searched after
// the working directory.
func getUserConfigPaths() []string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return nil
	}
	return []string{filepath.Join(dir, "cleanstep")}
}

// getEnvSpecs lists the short environment variable aliases. Every other key
// is reachable as CLEANSTEP_<SECTION>_<KEY>.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: EnvPrefix + "_BACKEND", Path: "store.backend"},
		{Name: EnvPrefix + "_BUCKET", Path: "store.bucket"},
		{Name: EnvPrefix + "_ENDPOINT", Path: "store.endpoint"},
		{Name: EnvPrefix + "_REGISTRY_URL", Path: "registry.url"},
		{Name: EnvPrefix + "_RUNS_DIR", Path: "runs.dir"},
		{Name: EnvPrefix + "_DATE_POLICY", Path: "cleaning.date_policy"},
		{Name: EnvPrefix + "_MAX_ATTEMPTS", Path: "retry.max_attempts"},
	}
}

func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

func normalize(cfg *Config) {
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Registry.Driver = strings.ToLower(strings.TrimSpace(cfg.Registry.Driver))
	cfg.Cleaning.DatePolicy = strings.ToLower(strings.TrimSpace(cfg.Cleaning.DatePolicy))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
}
