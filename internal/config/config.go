// Package config loads verifarm runtime settings.
//
// Precedence, lowest first: built-in defaults, config file, .env file,
// VERIFARM_* environment variables, runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (VERIFARM_WORKERS, ...).
const EnvPrefix = "VERIFARM"

// ConfigName is the base name searched for when no explicit file is given.
const ConfigName = "verifarm"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// Workers is the pool size. Zero selects the host's CPU count.
	Workers int `mapstructure:"workers"`

	Monitor MonitorConfig `mapstructure:"monitor"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
	History HistoryConfig `mapstructure:"history"`
	Events  EventsConfig  `mapstructure:"events"`
	Publish PublishConfig `mapstructure:"publish"`
}

// MonitorConfig controls the coordinator's progress loop.
type MonitorConfig struct {
	// Interval overrides the automatic 1s/5s progress interval when non-zero.
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the optional HTTP status endpoint.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// HistoryConfig controls the run-history database.
//
// When Path and URL are both empty the database lives under the user
// config directory (history.DefaultPath).
type HistoryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// EventsConfig controls the JSONL event stream.
type EventsConfig struct {
	// Path is the JSONL destination; "-" means stdout, empty disables.
	Path string `mapstructure:"path"`
}

// PublishConfig controls post-run artifact publishing.
type PublishConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Provider       string `mapstructure:"provider"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	Prefix         string `mapstructure:"prefix"`
	BaseDir        string `mapstructure:"base_dir"`
	SkipExisting   bool   `mapstructure:"skip_existing"`
}

// Load resolves configuration without an explicit config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadWithFile(ctx, "", overrides...)
}

// LoadWithFile resolves configuration, reading path when it is non-empty.
//
// Without a path, verifarm.{yaml,yml,json} is searched in the working
// directory and in $XDG_CONFIG_HOME/verifarm; a missing file is not an error.
func LoadWithFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, ConfigName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

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

// SetDefaults registers every known key so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)
	v.SetDefault("monitor.interval", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", "localhost")
	v.SetDefault("status.port", 8089)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.url", "")
	v.SetDefault("history.auth_token", "")

	v.SetDefault("events.path", "")

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.provider", "s3")
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.region", "")
	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.profile", "")
	v.SetDefault("publish.force_path_style", false)
	v.SetDefault("publish.prefix", "")
	v.SetDefault("publish.base_dir", "")
	v.SetDefault("publish.skip_existing", false)
}

// Validate rejects settings no command could honor.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must be >= 0, got %s", c.Monitor.Interval)
	}
	if c.Status.Enabled && (c.Status.Port < 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port out of range: %d", c.Status.Port)
	}
	if c.Publish.Enabled {
		switch c.Publish.Provider {
		case "s3":
			if strings.TrimSpace(c.Publish.Bucket) == "" {
				return errors.New("publish.bucket is required for the s3 provider")
			}
		case "file":
			if strings.TrimSpace(c.Publish.BaseDir) == "" {
				return errors.New("publish.base_dir is required for the file provider")
			}
		default:
			return fmt.Errorf("unsupported publish.provider: %q", c.Publish.Provider)
		}
	}
	return nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyOverrides flattens nested maps into dotted keys and sets them with
// the highest precedence.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, m[k])
	}
}
