// Package config loads application settings from a config file,
// environment variables, and defaults, in that order of increasing
// precedence for the environment.
//
// Settings live in riverwalks.yaml in the data directory (or a path given
// explicitly) and every key can be overridden with a RIVERWALKS_ prefixed
// environment variable, e.g. RIVERWALKS_REMOTE_BASE_URL.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application settings.
type Config struct {
	// DataDir holds the SQLite store, photo blobs, spool, and logs.
	DataDir string `mapstructure:"data_dir"`

	Remote struct {
		// BaseURL of the remote store's REST API.
		BaseURL string `mapstructure:"base_url"`

		// Token authenticates API calls. Usually set via
		// RIVERWALKS_REMOTE_TOKEN rather than the config file.
		Token string `mapstructure:"token"`

		// UserID identifies the signed-in user for downloads. Empty
		// leaves the engine in enqueue-only mode.
		UserID string `mapstructure:"user_id"`

		// Timeout for a single remote call.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Sync struct {
		// Interval between periodic drain retries.
		Interval time.Duration `mapstructure:"interval"`

		// HeartbeatInterval between connectivity probes.
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

		// SettleDelay connectivity must hold before declaring online.
		SettleDelay time.Duration `mapstructure:"settle_delay"`

		// OrphanScanInterval between photo orphan sweeps.
		OrphanScanInterval time.Duration `mapstructure:"orphan_scan_interval"`
	} `mapstructure:"sync"`

	Dashboard struct {
		// Enabled starts the WebSocket status server in daemon mode.
		Enabled bool `mapstructure:"enabled"`

		// Port for the dashboard HTTP listener.
		Port int `mapstructure:"port"`
	} `mapstructure:"dashboard"`

	Spool struct {
		// Dir is watched for photo files to import. Empty disables the
		// watcher.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"spool"`

	Log struct {
		// File receives daemon logs; empty logs to stderr.
		File string `mapstructure:"file"`

		// MaxSizeMB before the log file is rotated.
		MaxSizeMB int `mapstructure:"max_size_mb"`

		// MaxBackups rotated files to keep.
		MaxBackups int `mapstructure:"max_backups"`
	} `mapstructure:"log"`
}

// DefaultDataDir returns ~/.riverwalks, falling back to the current
// directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".riverwalks"
	}
	return filepath.Join(home, ".riverwalks")
}

// Load reads configuration from the given file path (or the default
// location when path is empty), applies environment overrides, and fills
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key gets a default, if only empty, so environment overrides
	// bind even when the config file never mentions the key.
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user_id", "")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.heartbeat_interval", 5*time.Second)
	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.orphan_scan_interval", 5*time.Minute)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("spool.dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetEnvPrefix("RIVERWALKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("riverwalks")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Missing config file is fine; defaults and env cover it.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// StorePath returns the SQLite database location.
func (c *Config) StorePath() string { return filepath.Join(c.DataDir, "riverwalks.db") }

// BlobDir returns the photo binary directory.
func (c *Config) BlobDir() string { return filepath.Join(c.DataDir, "photos") }

// LogFile returns the configured log path, defaulting into the data dir.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "riverwalks.log")
}
