package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abelbrown/chatfeed/internal/model"
)

// isolate points every search path at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func newLoader() *Loader {
	l := NewLoader()
	l.SetEnvFile("")
	return l
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := newLoader().Load()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, ".chatfeed"), cfg.DataDir)
	require.Equal(t, 100, cfg.Feed.MaxSources)
	require.Equal(t, 20, cfg.Feed.PerSourceLimit)
	require.Equal(t, 20, cfg.Feed.OlderLimit)
	require.Equal(t, 30*time.Second, cfg.Feed.FetchTimeout)
	require.Equal(t, 5*time.Minute, cfg.Poll.Interval)
	require.Empty(t, cfg.Poll.Cron)
	require.Equal(t, "info", cfg.Log.Level)

	quota, err := cfg.QuotaBytes()
	require.NoError(t, err)
	require.Equal(t, 64000, quota)
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", `
data_dir: /var/lib/chatfeed
feed:
  per_source_limit: 50
  fetch_timeout: 5s
poll:
  cron: "*/10 * * * *"
presets:
  quota_bytes: 1 MiB
ui:
  item_height: 4
sources:
  - id: hn
    title: Hacker News
    feed_url: https://news.ycombinator.com/rss
  - id: blog
    kind: group
    feed_url: https://example.com/feed.xml
`)

	l := newLoader()
	l.SetConfigFile(path)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, path, l.ConfigFileUsed())

	require.Equal(t, "/var/lib/chatfeed", cfg.DataDir)
	require.Equal(t, 50, cfg.Feed.PerSourceLimit)
	require.Equal(t, 20, cfg.Feed.OlderLimit, "unset keys keep defaults")
	require.Equal(t, 5*time.Second, cfg.Feed.FetchTimeout)
	require.Equal(t, "*/10 * * * *", cfg.Poll.Cron)
	require.Equal(t, 4, cfg.UI.ItemHeight)

	quota, err := cfg.QuotaBytes()
	require.NoError(t, err)
	require.Equal(t, 1<<20, quota)

	srcs := cfg.FeedSources()
	require.Len(t, srcs, 2)
	require.Equal(t, model.Source{ID: "hn", Title: "Hacker News", Kind: model.KindChannel, FeedURL: "https://news.ycombinator.com/rss"}, srcs[0])
	require.Equal(t, model.KindGroup, srcs[1].Kind)
	require.Equal(t, "blog", srcs[1].Title)

	require.Equal(t, "/var/lib/chatfeed/chatfeed.db", cfg.StorePath())
	require.Equal(t, "/var/lib/chatfeed/presets", cfg.PresetsPath())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", "feed:\n  older_limit: 30\n")

	t.Setenv("CHATFEED_FEED_OLDER_LIMIT", "40")
	t.Setenv("CHATFEED_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("CHATFEED_POLL_INTERVAL", "90s")

	l := newLoader()
	l.SetConfigFile(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, 40, cfg.Feed.OlderLimit)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, 90*time.Second, cfg.Poll.Interval)
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	envPath := writeFile(t, dir, ".env", "CHATFEED_METRICS_ADDR=127.0.0.1:9464\n")

	// register cleanup for a variable godotenv will set
	t.Setenv("CHATFEED_METRICS_ADDR", "")
	require.NoError(t, os.Unsetenv("CHATFEED_METRICS_ADDR"))

	l := NewLoader()
	l.SetEnvFile(envPath)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
}

func TestMissingDotEnvIsFine(t *testing.T) {
	dir := isolate(t)
	l := NewLoader()
	l.SetEnvFile(filepath.Join(dir, "nope.env"))
	_, err := l.Load()
	require.NoError(t, err)
}

func TestExplicitMissingConfigFileFails(t *testing.T) {
	dir := isolate(t)
	l := newLoader()
	l.SetConfigFile(filepath.Join(dir, "missing.yaml"))
	_, err := l.Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max sources", func(c *Config) { c.Feed.MaxSources = 0 }},
		{"per source limit", func(c *Config) { c.Feed.PerSourceLimit = -1 }},
		{"older limit", func(c *Config) { c.Feed.OlderLimit = 0 }},
		{"fetch timeout", func(c *Config) { c.Feed.FetchTimeout = 0 }},
		{"concurrency", func(c *Config) { c.Feed.MaxConcurrentFetches = 0 }},
		{"negative poll", func(c *Config) { c.Poll.Interval = -time.Second }},
		{"bad cron", func(c *Config) { c.Poll.Cron = "every tuesday" }},
		{"bad quota", func(c *Config) { c.Presets.QuotaBytes = "lots" }},
		{"item height", func(c *Config) { c.UI.ItemHeight = 0 }},
		{"source without id", func(c *Config) { c.Sources = []SourceConfig{{FeedURL: "https://x"}} }},
		{"source without url", func(c *Config) { c.Sources = []SourceConfig{{ID: "a"}} }},
		{"duplicate source", func(c *Config) {
			c.Sources = []SourceConfig{{ID: "a", FeedURL: "https://x"}, {ID: "a", FeedURL: "https://y"}}
		}},
		{"bad kind", func(c *Config) { c.Sources = []SourceConfig{{ID: "a", Kind: "forum", FeedURL: "https://x"}} }},
	}

	require.NoError(t, DefaultConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestQuotaUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	for _, raw := range []string{"", "0", "  "} {
		cfg.Presets.QuotaBytes = raw
		q, err := cfg.QuotaBytes()
		require.NoError(t, err)
		require.Zero(t, q)
	}
}

func TestExpandTilde(t *testing.T) {
	home := isolate(t)
	require.Equal(t, home, expandTilde("~"))
	require.Equal(t, filepath.Join(home, "x", "y"), expandTilde("~/x/y"))
	require.Equal(t, "/abs", expandTilde("/abs"))
	require.Equal(t, "", expandTilde(""))
}
