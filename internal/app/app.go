// Package app assembles chatfeed from a Config: stores, gateways, the
// coordinator and the commands the UI runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatfeed/internal/config"
	"github.com/abelbrown/chatfeed/internal/coord"
	"github.com/abelbrown/chatfeed/internal/feed"
	"github.com/abelbrown/chatfeed/internal/fetch"
	"github.com/abelbrown/chatfeed/internal/kv"
	"github.com/abelbrown/chatfeed/internal/logging"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/otel"
	"github.com/abelbrown/chatfeed/internal/presets"
	"github.com/abelbrown/chatfeed/internal/store"
	"github.com/abelbrown/chatfeed/internal/ui"
)

// ringSize is how many recent events the debug overlay can show stats for.
const ringSize = 1024

// Runtime owns every long-lived component. Close releases them.
type Runtime struct {
	Config  *config.Config
	Events  *otel.Logger
	Ring    *otel.RingBuffer
	Store   *store.Store
	KV      kv.KV
	Presets *presets.Manager
	Coord   *coord.Coordinator

	// Opener launches url in the user's browser. Replaced in tests.
	Opener func(url string) error

	closers []func() error
}

// Open builds a Runtime. Configured RSS sources are upserted into the store
// so the coordinator sees one merged source list.
func Open(cfg *config.Config) (*Runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	r := &Runtime{Config: cfg, Opener: openBrowser}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	events, err := otel.OpenFile(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	r.Events = events
	r.Ring = otel.NewRingBuffer(ringSize)
	events.SetRingBuffer(r.Ring)
	r.closers = append(r.closers, func() error { events.Close(); return nil })

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.Store = st
	r.closers = append(r.closers, st.Close)

	if err := st.UpsertSources(cfg.FeedSources()); err != nil {
		return nil, fmt.Errorf("register feed sources: %w", err)
	}

	db, err := kv.Open(cfg.PresetsPath())
	if err != nil {
		return nil, fmt.Errorf("open preset store: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	r.KV = db

	quota, err := cfg.QuotaBytes()
	if err != nil {
		return nil, err
	}
	if quota > 0 {
		r.KV = kv.NewQuota(db, quota)
	}

	r.Presets = presets.NewManager(r.KV, events)
	if err := r.Presets.Load(); err != nil {
		// an unreadable collection starts empty; the next save rewrites it
		logging.Warn("presets unavailable", "error", err)
		events.Error(otel.KindPresetPersistError, "app", err)
	}

	sources, err := st.Sources()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	gateway := &fetch.Router{
		RSS:   fetch.NewRSSGateway(cfg.Feed.FetchTimeout, cfg.Feed.RSSInterval),
		Local: fetch.NewStoreGateway(st),
	}
	r.Coord = coord.NewCoordinator(gateway, st, events, sources, coord.Config{
		MaxSources:           cfg.Feed.MaxSources,
		PerSourceLimit:       cfg.Feed.PerSourceLimit,
		OlderLimit:           cfg.Feed.OlderLimit,
		FetchTimeout:         cfg.Feed.FetchTimeout,
		MaxConcurrentFetches: cfg.Feed.MaxConcurrentFetches,
		PollInterval:         cfg.Poll.Interval,
		PollCron:             cfg.Poll.Cron,
	})

	events.Emit(otel.Event{
		Kind:  otel.KindStartup,
		Comp:  "app",
		Count: len(sources),
		Extra: map[string]any{"presets": r.Presets.Len(), "version": logging.Version},
	})
	logging.Info("runtime ready", "sources", len(sources), "presets", r.Presets.Len(), "data_dir", cfg.DataDir)

	ok = true
	return r, nil
}

// Close releases everything Open acquired, newest first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Ingester returns a Telegram ingester writing into the runtime's store.
func (r *Runtime) Ingester() (*fetch.TelegramIngester, error) {
	if r.Config.Telegram.Token == "" {
		return nil, errors.New("telegram.token is not set (CHATFEED_TELEGRAM_TOKEN)")
	}
	return fetch.NewTelegramIngester(r.Config.Telegram.Token, r.Store, r.Events, r.Config.Telegram.SelfID)
}

// UIConfig returns the commands the TUI runs. ctx bounds every load.
func (r *Runtime) UIConfig(ctx context.Context) ui.AppConfig {
	sources := r.Coord.Sources()

	return ui.AppConfig{
		LoadInitial: func() tea.Cmd {
			excluded := r.Coord.Excluded()
			return func() tea.Msg {
				batch, err := r.Coord.LoadInitial(ctx, sources, excluded)
				return feed.Loaded{Batch: batch, Err: err}
			}
		},
		LoadOlder: func(cursor int64) tea.Cmd {
			excluded := r.Coord.Excluded()
			return func() tea.Msg {
				batch, err := r.Coord.LoadOlder(ctx, sources, excluded, cursor)
				return feed.OlderLoaded{Batch: batch, Err: err}
			}
		},
		SavePreset: func(name string, excluded []string) tea.Cmd {
			return func() tea.Msg {
				p, err := r.Presets.Save(name, excluded)
				if err != nil {
					return ui.PresetsChanged{Err: err}
				}
				return ui.PresetsChanged{Presets: r.Presets.List(), Saved: &p}
			}
		},
		DeletePreset: func(id string) tea.Cmd {
			return func() tea.Msg {
				if err := r.Presets.Delete(id); err != nil {
					return ui.PresetsChanged{Err: err}
				}
				return ui.PresetsChanged{Presets: r.Presets.List()}
			}
		},
		Navigate: func(key model.Key) tea.Cmd {
			return func() tea.Msg {
				link, err := r.Link(key)
				if err != nil {
					return ui.NavigateDone{Err: err}
				}
				r.Events.Emit(otel.Event{Kind: otel.KindNavigate, Comp: "app", Source: key.SourceID, Msg: link})
				return ui.NavigateDone{Target: link, Err: r.Opener(link)}
			}
		},
		FilterChanged: r.Coord.SetExcluded,

		Sources: sources,
		Presets: r.Presets.List(),
		Ring:    r.Ring,
		Events:  r.Events,

		ItemHeight: r.Config.UI.ItemHeight,
		Overscan:   r.Config.UI.Overscan,
		NearTop:    r.Config.UI.NearTop,
	}
}

// Link resolves the origin URL of the item at key.
func (r *Runtime) Link(key model.Key) (string, error) {
	src, err := r.Store.Source(key.SourceID)
	if err != nil {
		return "", fmt.Errorf("source %s: %w", key.SourceID, err)
	}
	it, err := r.Store.Item(key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if err != nil {
		it = model.Item{SourceID: key.SourceID, ItemID: key.ItemID}
	}
	return Link(src, it), nil
}

// Link returns where an item lives: the article URL for RSS entries that
// carry one, the feed itself otherwise, and a t.me message link for chats.
func Link(src model.Source, it model.Item) string {
	if it.Media != nil && it.Media.Kind == model.MediaLink && it.Media.URL != "" {
		return it.Media.URL
	}
	if src.FeedURL != "" {
		return src.FeedURL
	}
	// supergroups and channels carry a -100 prefix the web links drop
	chat := strings.TrimPrefix(src.ID, "-100")
	chat = strings.TrimPrefix(chat, "-")
	return fmt.Sprintf("https://t.me/c/%s/%s", chat, it.ItemID)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
