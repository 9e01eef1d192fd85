package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment override.
const envPrefix = "CHATFEED"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:       viper.New(),
		envFile: ".env",
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFile sets the dotenv file read before the environment is consulted.
// Empty disables it.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars (including .env)
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// existing environment wins over the file
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = expandTilde(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "chatfeed"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".chatfeed"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("telegram.token", cfg.Telegram.Token)
	v.SetDefault("telegram.self_id", cfg.Telegram.SelfID)

	v.SetDefault("feed.max_sources", cfg.Feed.MaxSources)
	v.SetDefault("feed.per_source_limit", cfg.Feed.PerSourceLimit)
	v.SetDefault("feed.older_limit", cfg.Feed.OlderLimit)
	v.SetDefault("feed.fetch_timeout", cfg.Feed.FetchTimeout)
	v.SetDefault("feed.max_concurrent_fetches", cfg.Feed.MaxConcurrentFetches)
	v.SetDefault("feed.rss_interval", cfg.Feed.RSSInterval)

	v.SetDefault("poll.interval", cfg.Poll.Interval)
	v.SetDefault("poll.cron", cfg.Poll.Cron)

	v.SetDefault("presets.quota_bytes", cfg.Presets.QuotaBytes)

	v.SetDefault("ui.item_height", cfg.UI.ItemHeight)
	v.SetDefault("ui.overscan", cfg.UI.Overscan)
	v.SetDefault("ui.near_top", cfg.UI.NearTop)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// bindEnvVars binds CHATFEED_* variables for every scalar key. Viper's
// Unmarshal misses env vars on nested structs unless they are bound.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		"data_dir",
		"telegram.token",
		"telegram.self_id",
		"feed.max_sources",
		"feed.per_source_limit",
		"feed.older_limit",
		"feed.fetch_timeout",
		"feed.max_concurrent_fetches",
		"feed.rss_interval",
		"poll.interval",
		"poll.cron",
		"presets.quota_bytes",
		"ui.item_height",
		"ui.overscan",
		"ui.near_top",
		"metrics.addr",
		"log.level",
	}

	for _, key := range envBindings {
		envVar := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}
