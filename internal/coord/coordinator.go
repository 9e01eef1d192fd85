// Package coord is the aggregation engine: it fans page fetches out over the
// eligible sources, joins them with per-source failure isolation, publishes
// what arrived to the message store and runs the periodic poll.
package coord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/chatfeed/internal/feed"
	"github.com/abelbrown/chatfeed/internal/filter"
	"github.com/abelbrown/chatfeed/internal/logging"
	"github.com/abelbrown/chatfeed/internal/metrics"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/otel"
)

// ErrBusy is returned when a load is requested while another is in flight.
var ErrBusy = errors.New("coord: load already in flight")

const (
	defaultMaxSources           = 100
	defaultPerSourceLimit       = 20
	defaultOlderLimit           = 20
	defaultFetchTimeout         = 30 * time.Second
	defaultMaxConcurrentFetches = 5
	defaultPollInterval         = 5 * time.Minute
)

// cronRetryDelay is the pause after a cron schedule fails to produce a tick.
const cronRetryDelay = 30 * time.Second

// Gateway fetches one page of one source. A zero cursor asks for the newest
// page; otherwise only items strictly older than cursor are wanted.
type Gateway interface {
	Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error)
}

// Publisher receives every successfully fetched page.
type Publisher interface {
	SaveItems(items []model.Item) (int, error)
}

// Sender delivers poll results into the UI loop. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Config tunes the fan-out.
type Config struct {
	MaxSources           int
	PerSourceLimit       int
	OlderLimit           int
	FetchTimeout         time.Duration
	MaxConcurrentFetches int

	// PollInterval is used when PollCron is empty. Zero disables polling.
	PollInterval time.Duration
	// PollCron is a cron expression. Takes precedence over PollInterval.
	PollCron string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxSources:           defaultMaxSources,
		PerSourceLimit:       defaultPerSourceLimit,
		OlderLimit:           defaultOlderLimit,
		FetchTimeout:         defaultFetchTimeout,
		MaxConcurrentFetches: defaultMaxConcurrentFetches,
		PollInterval:         defaultPollInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSources <= 0 {
		c.MaxSources = d.MaxSources
	}
	if c.PerSourceLimit <= 0 {
		c.PerSourceLimit = d.PerSourceLimit
	}
	if c.OlderLimit <= 0 {
		c.OlderLimit = d.OlderLimit
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	return c
}

// Coordinator manages fan-out loads and background polling.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	gateway Gateway
	pub     Publisher // optional
	events  *otel.Logger
	cfg     Config
	sources []model.Source // IMMUTABLE: set at construction, never modified

	mu       sync.Mutex
	excluded model.SourceSet

	// flight is the single-flight guard. Only ever TryLock'ed.
	flight  sync.Mutex
	skipped atomic.Int64

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator over the given sources. pub and
// events may be nil.
func NewCoordinator(g Gateway, pub Publisher, events *otel.Logger, sources []model.Source, cfg Config) *Coordinator {
	sourcesCopy := make([]model.Source, len(sources))
	copy(sourcesCopy, sources)

	return &Coordinator{
		gateway:  g,
		pub:      pub,
		events:   events,
		cfg:      cfg.withDefaults(),
		sources:  sourcesCopy,
		excluded: model.SourceSet{},
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Sources returns a copy of the known sources.
func (c *Coordinator) Sources() []model.Source {
	out := make([]model.Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// SetExcluded records the exclusion set the poller should honor.
func (c *Coordinator) SetExcluded(excluded model.SourceSet) {
	c.mu.Lock()
	c.excluded = excluded.Clone()
	c.mu.Unlock()
}

// Excluded returns a copy of the exclusion set last passed to SetExcluded.
func (c *Coordinator) Excluded() model.SourceSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.excluded.Clone()
}

// Skipped returns how many poll ticks were skipped because a load was in flight.
func (c *Coordinator) Skipped() int64 {
	return c.skipped.Load()
}

// Eligible returns the sources that take part in a fan-out, in input order:
// channels and groups that are neither excluded nor the user's own chat,
// capped at MaxSources.
func (c *Coordinator) Eligible(sources []model.Source, excluded model.SourceSet) []model.Source {
	out := make([]model.Source, 0, min(len(sources), c.cfg.MaxSources))
	for _, src := range sources {
		if len(out) >= c.cfg.MaxSources {
			break
		}
		if !src.Feedable() || excluded.Has(src.ID) {
			continue
		}
		out = append(out, src)
	}
	return out
}

// LoadInitial fetches the newest page of every eligible source.
func (c *Coordinator) LoadInitial(ctx context.Context, sources []model.Source, excluded model.SourceSet) (feed.Batch, error) {
	if !c.flight.TryLock() {
		c.busy("initial")
		return feed.Batch{}, ErrBusy
	}
	defer c.flight.Unlock()

	return c.load(ctx, "initial", otel.KindFeedLoad, sources, excluded, 0, c.cfg.PerSourceLimit)
}

// LoadOlder fetches items strictly older than cursor from every eligible
// source. A non-positive cursor means the timeline is empty, which falls
// back to LoadInitial.
func (c *Coordinator) LoadOlder(ctx context.Context, sources []model.Source, excluded model.SourceSet, cursor int64) (feed.Batch, error) {
	if cursor <= 0 {
		return c.LoadInitial(ctx, sources, excluded)
	}
	if !c.flight.TryLock() {
		c.busy("older")
		return feed.Batch{}, ErrBusy
	}
	defer c.flight.Unlock()

	return c.load(ctx, "older", otel.KindFeedOlder, sources, excluded, cursor, c.cfg.OlderLimit)
}

func (c *Coordinator) busy(kind string) {
	metrics.BusyTotal.Inc()
	c.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFeedBusy, Comp: "coord", Msg: kind})
}

// load runs one fan-out. The caller holds the flight guard.
func (c *Coordinator) load(ctx context.Context, kind string, ev otel.EventKind, sources []model.Source, excluded model.SourceSet, cursor int64, limit int) (feed.Batch, error) {
	start := time.Now()
	eligible := c.Eligible(sources, excluded)
	batch := c.fetchAll(ctx, eligible, cursor, limit)

	metrics.LoadTotal.WithLabelValues(kind).Inc()
	c.events.Emit(otel.Event{
		Level:  otel.LevelInfo,
		Kind:   ev,
		Comp:   "coord",
		Dur:    time.Since(start),
		Count:  len(batch.Items),
		Cursor: cursor,
		Failed: batch.Failed,
		Extra:  map[string]any{"sources": len(eligible)},
	})
	logging.Info("load complete", "kind", kind, "sources", len(eligible), "items", len(batch.Items), "failed", len(batch.Failed))

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

// fetchAll fetches all sources in parallel and joins the results.
// A failing source never fails the join; it lands in Batch.Failed.
func (c *Coordinator) fetchAll(ctx context.Context, sources []model.Source, cursor int64, limit int) feed.Batch {
	pages := make([][]model.Item, len(sources))
	failed := make([]bool, len(sources))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentFetches)

	for i, src := range sources {
		g.Go(func() error {
			// Early exit if context cancelled
			if ctx.Err() != nil {
				failed[i] = true
				return nil
			}
			items, err := c.fetchSource(ctx, src, cursor, limit)
			if err != nil {
				failed[i] = true
				return nil
			}
			pages[i] = items
			return nil // never fail the group - errors reported per-source
		})
	}

	_ = g.Wait()

	batch := feed.Batch{Items: []model.Item{}}
	for i, src := range sources {
		if failed[i] {
			batch.Failed = append(batch.Failed, src.ID)
			continue
		}
		batch.Items = append(batch.Items, pages[i]...)
	}
	return batch
}

// fetchSource fetches a single source with timeout and publishes the page.
func (c *Coordinator) fetchSource(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	items, err := c.gateway.Fetch(fetchCtx, src, cursor, limit)
	dur := time.Since(start)
	metrics.ObserveFetch(dur, err)

	if err != nil {
		logging.Warn("fetch failed", "source", src.ID, "cursor", cursor, "error", err)
		c.events.Emit(otel.Event{
			Level:  otel.LevelWarn,
			Kind:   otel.KindFetchError,
			Comp:   "coord",
			Source: src.ID,
			Cursor: cursor,
			Dur:    dur,
			Err:    err.Error(),
		})
		return nil, err
	}

	items = clampPage(items, src.ID, cursor, limit)
	c.events.Emit(otel.Event{
		Level:  otel.LevelDebug,
		Kind:   otel.KindFetchComplete,
		Comp:   "coord",
		Source: src.ID,
		Cursor: cursor,
		Dur:    dur,
		Count:  len(items),
	})

	if c.pub != nil && len(items) > 0 {
		if _, err := c.pub.SaveItems(items); err != nil {
			logging.Warn("publish failed", "source", src.ID, "error", err)
			c.events.Error(otel.KindPublishErr, "coord", err)
		}
	}
	return items, nil
}

// clampPage enforces the page contract on gateway output: only items of
// src, strictly older than a non-zero cursor, at most limit of the newest.
func clampPage(items []model.Item, sourceID string, cursor int64, limit int) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.SourceID != sourceID {
			continue
		}
		if cursor > 0 && it.Date >= cursor {
			continue
		}
		out = append(out, it)
	}
	if len(out) > limit {
		out = filter.SortChronological(out)
		out = out[len(out)-limit:]
	}
	return out
}

// Start begins background polling. Call with a cancellable context.
// The initial load is the caller's; the first poll happens one period later.
func (c *Coordinator) Start(ctx context.Context, sender Sender) {
	if c.cfg.PollCron == "" && c.cfg.PollInterval <= 0 {
		logging.Info("polling disabled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.cfg.PollCron != "" {
			c.cronLoop(ctx, sender)
			return
		}

		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.poll(ctx, sender)
			}
		}
	}()
}

// cronLoop sleeps until each tick of the cron schedule.
func (c *Coordinator) cronLoop(ctx context.Context, sender Sender) {
	for {
		wait, err := c.nextDelay(time.Now())
		if err != nil {
			logging.Error("poll schedule failed", "cron", c.cfg.PollCron, "error", err)
			wait = cronRetryDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err == nil {
			c.poll(ctx, sender)
		}
	}
}

// nextDelay returns the time until the next cron tick after now.
func (c *Coordinator) nextDelay(now time.Time) (time.Duration, error) {
	next, err := gronx.NextTickAfter(c.cfg.PollCron, now, false)
	if err != nil {
		return 0, err
	}
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// poll re-runs the newest-page fan-out. The tick is skipped entirely while
// any other load holds the flight guard.
func (c *Coordinator) poll(ctx context.Context, sender Sender) {
	if !c.flight.TryLock() {
		c.skipped.Add(1)
		c.events.Info(otel.KindPollSkip, "coord", "load in flight")
		return
	}
	batch, err := c.load(ctx, "poll", otel.KindFeedPoll, c.sources, c.Excluded(), 0, c.cfg.PerSourceLimit)
	c.flight.Unlock()

	if ctx.Err() != nil {
		return
	}
	if sender != nil {
		sender.Send(feed.Polled{Batch: batch, Err: err})
	}
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
