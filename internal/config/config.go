// Package config holds the chatfeed configuration and its loader.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"

	"github.com/abelbrown/chatfeed/internal/model"
)

// Config is the complete application configuration.
type Config struct {
	// DataDir holds the message store, preset store and logs.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Feed     FeedConfig     `yaml:"feed" mapstructure:"feed"`
	Poll     PollConfig     `yaml:"poll" mapstructure:"poll"`
	Presets  PresetsConfig  `yaml:"presets" mapstructure:"presets"`
	UI       UIConfig       `yaml:"ui" mapstructure:"ui"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`

	// Sources are statically configured RSS-mirrored channels. Ingested
	// chats are discovered from the message store at startup.
	Sources []SourceConfig `yaml:"sources" mapstructure:"sources"`
}

// TelegramConfig configures Bot API ingestion.
type TelegramConfig struct {
	Token string `yaml:"token" mapstructure:"token"`

	// SelfID is the chat treated as the user's own saved messages.
	SelfID int64 `yaml:"self_id" mapstructure:"self_id"`
}

// FeedConfig bounds the aggregation fan-out.
type FeedConfig struct {
	MaxSources           int           `yaml:"max_sources" mapstructure:"max_sources"`
	PerSourceLimit       int           `yaml:"per_source_limit" mapstructure:"per_source_limit"`
	OlderLimit           int           `yaml:"older_limit" mapstructure:"older_limit"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`

	// RSSInterval spaces out requests to feed servers.
	RSSInterval time.Duration `yaml:"rss_interval" mapstructure:"rss_interval"`
}

// PollConfig schedules the periodic refresh.
type PollConfig struct {
	// Interval is ignored when Cron is set. Zero disables polling.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Cron     string        `yaml:"cron" mapstructure:"cron"`
}

// PresetsConfig configures preset persistence.
type PresetsConfig struct {
	// QuotaBytes caps the preset store, e.g. "64KB". Empty or "0" means
	// unlimited.
	QuotaBytes string `yaml:"quota_bytes" mapstructure:"quota_bytes"`
}

// UIConfig tunes the virtualized list.
type UIConfig struct {
	ItemHeight int `yaml:"item_height" mapstructure:"item_height"`
	Overscan   int `yaml:"overscan" mapstructure:"overscan"`
	NearTop    int `yaml:"near_top" mapstructure:"near_top"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Empty disables it.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures the file logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// SourceConfig is one statically configured source.
type SourceConfig struct {
	ID      string `yaml:"id" mapstructure:"id"`
	Title   string `yaml:"title" mapstructure:"title"`
	Kind    string `yaml:"kind" mapstructure:"kind"`
	FeedURL string `yaml:"feed_url" mapstructure:"feed_url"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.chatfeed",
		Feed: FeedConfig{
			MaxSources:           100,
			PerSourceLimit:       20,
			OlderLimit:           20,
			FetchTimeout:         30 * time.Second,
			MaxConcurrentFetches: 5,
			RSSInterval:          250 * time.Millisecond,
		},
		Poll: PollConfig{
			Interval: 5 * time.Minute,
		},
		Presets: PresetsConfig{
			QuotaBytes: "64KB",
		},
		UI: UIConfig{
			ItemHeight: 3,
			Overscan:   3,
			NearTop:    6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Feed.MaxSources < 1 {
		return fmt.Errorf("feed.max_sources must be at least 1")
	}
	if c.Feed.PerSourceLimit < 1 {
		return fmt.Errorf("feed.per_source_limit must be at least 1")
	}
	if c.Feed.OlderLimit < 1 {
		return fmt.Errorf("feed.older_limit must be at least 1")
	}
	if c.Feed.FetchTimeout <= 0 {
		return fmt.Errorf("feed.fetch_timeout must be positive")
	}
	if c.Feed.MaxConcurrentFetches < 1 {
		return fmt.Errorf("feed.max_concurrent_fetches must be at least 1")
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	if c.Poll.Cron != "" && !gronx.IsValid(c.Poll.Cron) {
		return fmt.Errorf("poll.cron is not a valid cron expression: %q", c.Poll.Cron)
	}
	if _, err := c.QuotaBytes(); err != nil {
		return err
	}
	if c.UI.ItemHeight < 1 {
		return fmt.Errorf("ui.item_height must be at least 1")
	}
	if c.UI.Overscan < 0 || c.UI.NearTop < 0 {
		return fmt.Errorf("ui.overscan and ui.near_top must not be negative")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, src.ID)
		}
		seen[src.ID] = true
		if src.FeedURL == "" {
			return fmt.Errorf("sources[%d].feed_url is required", i)
		}
		if src.Kind != "" && model.ParseSourceKind(src.Kind) == "" {
			return fmt.Errorf("sources[%d].kind %q is not one of channel, group, basic_group", i, src.Kind)
		}
	}

	return nil
}

// QuotaBytes parses Presets.QuotaBytes. Zero means unlimited.
func (c *Config) QuotaBytes() (int, error) {
	raw := strings.TrimSpace(c.Presets.QuotaBytes)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("presets.quota_bytes: %w", err)
	}
	return int(v), nil
}

// FeedSources converts the static source list. Kind defaults to channel.
func (c *Config) FeedSources() []model.Source {
	out := make([]model.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		kind := model.KindChannel
		if s.Kind != "" {
			kind = model.ParseSourceKind(s.Kind)
		}
		title := s.Title
		if title == "" {
			title = s.ID
		}
		out = append(out, model.Source{ID: s.ID, Title: title, Kind: kind, FeedURL: s.FeedURL})
	}
	return out
}

// StorePath is the sqlite message store location.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "chatfeed.db")
}

// PresetsPath is the pebble preset store directory.
func (c *Config) PresetsPath() string {
	return filepath.Join(c.DataDir, "presets")
}
