// Package config loads pupilsync configuration from an optional YAML file
// and PUPILSYNC_* environment variables, with defaults for everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// StateDir holds the database, the trigger file, and the daemon log.
	StateDir string `mapstructure:"state_dir"`
}

// APIConfig configures the roster service client.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	RequestID string        `mapstructure:"request_id"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// GeocodingConfig configures the reverse-geocoding client.
type GeocodingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// SyncConfig configures the periodic trigger.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// DashboardConfig configures the local observation server.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig configures daemon log rotation.
type LogConfig struct {
	// File is the daemon log path. Empty logs to stderr only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DBPath returns the roster database path inside the state directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "roster.db")
}

// Load reads configuration from the given file (optional; empty means
// search the default locations), applies environment overrides, and fills
// in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("api.base_url", "https://androidtechnicaltestapi-test.bridgeinternationalacademies.com")
	v.SetDefault("api.request_id", "")
	v.SetDefault("api.user_agent", "pupilsync/1.0")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("geocoding.base_url", "https://api.openweathermap.org")
	v.SetDefault("geocoding.api_key", "")
	v.SetDefault("sync.interval", 30*time.Minute)
	v.SetDefault("sync.backoff_base", 5*time.Second)
	v.SetDefault("sync.backoff_max", 5*time.Minute)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.addr", "127.0.0.1:8377")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	v.SetEnvPrefix("PUPILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pupilsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pupilsync"))
		}
		if err := v.ReadInConfig(); err != nil {
			// a missing config file is fine, defaults apply
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pupilsync"
	}
	return filepath.Join(home, ".pupilsync")
}
