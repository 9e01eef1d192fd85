package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatfeed/internal/feed"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/store"
)

type fetchCall struct {
	source string
	cursor int64
	limit  int
}

// mockGateway implements Gateway for testing.
type mockGateway struct {
	mu         sync.Mutex
	calls      []fetchCall
	pages      map[string][]model.Item
	errs       map[string]error
	fetchDelay time.Duration
	fetchCount atomic.Int32

	// block, when set, holds every fetch until closed.
	block   chan struct{}
	started chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *mockGateway) Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error) {
	m.fetchCount.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, fetchCall{source: src.ID, cursor: cursor, limit: limit})
	started := m.started
	m.started = nil
	m.mu.Unlock()
	if started != nil {
		close(started)
	}

	if m.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.block:
		}
	}

	// Simulate delay if configured
	if m.fetchDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.fetchDelay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[src.ID]; err != nil {
		return nil, err
	}
	return m.pages[src.ID], nil
}

func (m *mockGateway) getCalls() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]fetchCall, len(m.calls))
	copy(result, m.calls)
	return result
}

type fakeSender struct {
	msgs chan tea.Msg
}

func (f *fakeSender) Send(msg tea.Msg) {
	f.msgs <- msg
}

func item(source, id string, date int64) model.Item {
	return model.Item{SourceID: source, ItemID: id, Date: date, HasText: true, Text: source + id}
}

func channels(ids ...string) []model.Source {
	out := make([]model.Source, len(ids))
	for i, id := range ids {
		out[i] = model.Source{ID: id, Title: id, Kind: model.KindChannel}
	}
	return out
}

// abcGateway serves A=[1,3,5], B=[2,4], C=[6].
func abcGateway() *mockGateway {
	return &mockGateway{pages: map[string][]model.Item{
		"A": {item("A", "1", 1), item("A", "3", 3), item("A", "5", 5)},
		"B": {item("B", "2", 2), item("B", "4", 4)},
		"C": {item("C", "6", 6)},
	}}
}

func dates(items []model.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.Date
	}
	return out
}

func equalDates(got []int64, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEligible(t *testing.T) {
	c := NewCoordinator(&mockGateway{}, nil, nil, nil, Config{MaxSources: 3})

	sources := []model.Source{
		{ID: "1", Kind: model.KindChannel},
		{ID: "2", Kind: model.KindBasicGroup},
		{ID: "3", Kind: model.KindGroup},
		{ID: "4", Kind: model.KindChannel, Self: true},
		{ID: "5", Kind: model.KindChannel},
		{ID: "6", Kind: model.KindChannel},
		{ID: "7", Kind: model.KindChannel},
	}

	got := c.Eligible(sources, model.NewSourceSet("5"))
	var ids []string
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	want := []string{"1", "3", "6"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("Eligible = %v, want %v", ids, want)
	}

	if got := c.Eligible(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestLoadInitialFetchesAllEligible(t *testing.T) {
	gw := abcGateway()
	c := NewCoordinator(gw, nil, nil, nil, DefaultConfig())

	batch, err := c.LoadInitial(context.Background(), channels("A", "B", "C"), nil)
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if len(batch.Failed) != 0 {
		t.Errorf("unexpected failures: %v", batch.Failed)
	}

	got := dates(feed.Canonical(batch.Items))
	if !equalDates(got, 1, 2, 3, 4, 5, 6) {
		t.Errorf("canonical = %v, want [1 2 3 4 5 6]", got)
	}

	for _, call := range gw.getCalls() {
		if call.cursor != 0 || call.limit != defaultPerSourceLimit {
			t.Errorf("unexpected call %+v", call)
		}
	}
}

func TestLoadInitialSkipsExcluded(t *testing.T) {
	gw := abcGateway()
	c := NewCoordinator(gw, nil, nil, nil, DefaultConfig())

	batch, err := c.LoadInitial(context.Background(), channels("A", "B", "C"), model.NewSourceSet("B"))
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if got := dates(feed.Canonical(batch.Items)); !equalDates(got, 1, 3, 5, 6) {
		t.Errorf("canonical = %v, want [1 3 5 6]", got)
	}
	for _, call := range gw.getCalls() {
		if call.source == "B" {
			t.Error("excluded source was fetched")
		}
	}
}

func TestLoadInitialPartialFailure(t *testing.T) {
	gw := abcGateway()
	gw.errs = map[string]error{"B": errors.New("flood wait")}
	c := NewCoordinator(gw, nil, nil, nil, DefaultConfig())

	batch, err := c.LoadInitial(context.Background(), channels("A", "B", "C"), nil)
	if err != nil {
		t.Fatalf("partial failure must not fail the load: %v", err)
	}
	if len(batch.Failed) != 1 || batch.Failed[0] != "B" {
		t.Errorf("Failed = %v, want [B]", batch.Failed)
	}
	if got := dates(feed.Canonical(batch.Items)); !equalDates(got, 1, 3, 5, 6) {
		t.Errorf("canonical = %v, want [1 3 5 6]", got)
	}
}

func TestLoadInitialNoSources(t *testing.T) {
	c := NewCoordinator(&mockGateway{}, nil, nil, nil, DefaultConfig())
	batch, err := c.LoadInitial(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if batch.Items == nil || len(batch.Items) != 0 || len(batch.Failed) != 0 {
		t.Errorf("expected empty batch, got %+v", batch)
	}
}

func TestLoadInitialPublishesToStore(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	c := NewCoordinator(abcGateway(), s, nil, nil, DefaultConfig())
	if _, err := c.LoadInitial(context.Background(), channels("A", "B", "C"), nil); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Items != 6 {
		t.Errorf("expected 6 published items, got %d", stats.Items)
	}
}

func TestCoordinatorRespectsContextCancellation(t *testing.T) {
	gw := abcGateway()
	gw.fetchDelay = 100 * time.Millisecond
	c := NewCoordinator(gw, nil, nil, nil, Config{MaxConcurrentFetches: 1})

	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		batch feed.Batch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		b, err := c.LoadInitial(ctx, channels("A", "B", "C"), nil)
		done <- result{b, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		if !errors.Is(r.err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", r.err)
		}
		if len(r.batch.Failed) == 0 {
			t.Error("cancelled sources should be reported as failed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("LoadInitial did not respect context cancellation")
	}

	if n := gw.fetchCount.Load(); n >= 3 {
		t.Errorf("expected fewer than 3 fetches after cancellation, got %d", n)
	}
}

func TestCoordinatorHandlesFetchTimeout(t *testing.T) {
	gw := abcGateway()
	gw.fetchDelay = 5 * time.Second
	c := NewCoordinator(gw, nil, nil, nil, Config{FetchTimeout: 50 * time.Millisecond})

	start := time.Now()
	batch, err := c.LoadInitial(context.Background(), channels("A"), nil)
	if err != nil {
		t.Fatalf("a per-source timeout is not a load error: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("per-fetch timeout not applied")
	}
	if len(batch.Failed) != 1 || batch.Failed[0] != "A" {
		t.Errorf("Failed = %v, want [A]", batch.Failed)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	gw := &mockGateway{fetchDelay: 20 * time.Millisecond}
	c := NewCoordinator(gw, nil, nil, nil, Config{MaxConcurrentFetches: 2})

	if _, err := c.LoadInitial(context.Background(), channels("1", "2", "3", "4", "5", "6"), nil); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if n := gw.fetchCount.Load(); n != 6 {
		t.Errorf("expected 6 fetches, got %d", n)
	}
	if peak := gw.maxInFlight.Load(); peak > 2 {
		t.Errorf("max concurrent fetches = %d, want <= 2", peak)
	}
}

func TestSingleFlight(t *testing.T) {
	gw := abcGateway()
	gw.block = make(chan struct{})
	gw.started = make(chan struct{})
	started := gw.started
	c := NewCoordinator(gw, nil, nil, nil, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		_, err := c.LoadInitial(context.Background(), channels("A"), nil)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first load never started")
	}

	if _, err := c.LoadInitial(context.Background(), channels("A"), nil); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent LoadInitial: expected ErrBusy, got %v", err)
	}
	if _, err := c.LoadOlder(context.Background(), channels("A"), nil, 100); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent LoadOlder: expected ErrBusy, got %v", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first load: %v", err)
	}
	if n := gw.fetchCount.Load(); n != 1 {
		t.Errorf("busy calls must not fetch, got %d fetches", n)
	}

	// guard released
	if _, err := c.LoadInitial(context.Background(), channels("A"), nil); err != nil {
		t.Errorf("load after release: %v", err)
	}
}

func TestLoadOlderPassesCursor(t *testing.T) {
	gw := &mockGateway{pages: map[string][]model.Item{
		"A": {item("A", "90", 90), item("A", "95", 95)},
	}}
	c := NewCoordinator(gw, nil, nil, nil, Config{OlderLimit: 7})

	s := feed.Reduce(feed.New(), feed.Loaded{Batch: feed.Batch{Items: []model.Item{item("A", "100", 100), item("A", "110", 110)}}})

	batch, err := c.LoadOlder(context.Background(), channels("A"), nil, s.Oldest())
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}

	calls := gw.getCalls()
	if len(calls) != 1 || calls[0].cursor != 100 || calls[0].limit != 7 {
		t.Errorf("unexpected calls %+v", calls)
	}

	s = feed.Reduce(s, feed.OlderLoaded{Batch: batch})
	if s.Oldest() != 90 {
		t.Errorf("oldest = %d, want 90", s.Oldest())
	}
	if got := dates(s.Canonical); !equalDates(got, 90, 95, 100, 110) {
		t.Errorf("canonical = %v", got)
	}
}

func TestLoadOlderEmptyTimelineFallsBack(t *testing.T) {
	gw := abcGateway()
	c := NewCoordinator(gw, nil, nil, nil, Config{PerSourceLimit: 11, OlderLimit: 3})

	batch, err := c.LoadOlder(context.Background(), channels("A", "B", "C"), nil, 0)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if len(batch.Items) != 6 {
		t.Errorf("expected initial-load result, got %d items", len(batch.Items))
	}
	for _, call := range gw.getCalls() {
		if call.cursor != 0 || call.limit != 11 {
			t.Errorf("fallback should behave as LoadInitial, got %+v", call)
		}
	}
}

func TestClampPage(t *testing.T) {
	items := []model.Item{
		item("A", "1", 10),
		item("X", "2", 20),
		item("A", "3", 30),
		item("A", "4", 40),
		item("A", "5", 50),
	}

	got := clampPage(items, "A", 50, 2)
	if !equalDates(dates(got), 30, 40) {
		t.Errorf("clampPage = %v, want [30 40]", dates(got))
	}

	got = clampPage(items, "A", 0, 10)
	if !equalDates(dates(got), 10, 30, 40, 50) {
		t.Errorf("clampPage = %v, want foreign source dropped", dates(got))
	}
}

func TestPollSendsPolled(t *testing.T) {
	gw := abcGateway()
	c := NewCoordinator(gw, nil, nil, channels("A", "B", "C"), Config{PollInterval: 20 * time.Millisecond})
	c.SetExcluded(model.NewSourceSet("C"))

	sender := &fakeSender{msgs: make(chan tea.Msg, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, sender)

	select {
	case msg := <-sender.msgs:
		polled, ok := msg.(feed.Polled)
		if !ok {
			t.Fatalf("expected feed.Polled, got %T", msg)
		}
		if polled.Err != nil {
			t.Errorf("unexpected error: %v", polled.Err)
		}
		if got := dates(feed.Canonical(polled.Batch.Items)); !equalDates(got, 1, 2, 3, 4, 5) {
			t.Errorf("polled canonical = %v, want C excluded", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no poll result received")
	}

	cancel()
	c.Wait()
}

func TestPollSkipsWhileBusy(t *testing.T) {
	gw := abcGateway()
	c := NewCoordinator(gw, nil, nil, channels("A"), Config{PollInterval: 10 * time.Millisecond})
	sender := &fakeSender{msgs: make(chan tea.Msg, 16)}

	c.flight.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, sender)

	deadline := time.Now().Add(2 * time.Second)
	for c.Skipped() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	c.Wait()
	c.flight.Unlock()

	if c.Skipped() < 2 {
		t.Errorf("expected skipped ticks, got %d", c.Skipped())
	}
	if n := gw.fetchCount.Load(); n != 0 {
		t.Errorf("skipped ticks must not fetch, got %d", n)
	}
	if len(sender.msgs) != 0 {
		t.Errorf("skipped ticks must not send, got %d messages", len(sender.msgs))
	}
}

func TestStartDisabled(t *testing.T) {
	c := NewCoordinator(&mockGateway{}, nil, nil, nil, Config{})
	c.cfg.PollInterval = 0
	c.Start(context.Background(), nil)

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with polling disabled")
	}
}

func TestCronNextDelay(t *testing.T) {
	c := NewCoordinator(&mockGateway{}, nil, nil, nil, Config{PollCron: "*/5 * * * *"})

	now := time.Date(2025, 3, 1, 12, 3, 0, 0, time.UTC)
	wait, err := c.nextDelay(now)
	if err != nil {
		t.Fatalf("nextDelay: %v", err)
	}
	if wait != 2*time.Minute {
		t.Errorf("wait = %v, want 2m", wait)
	}

	c.cfg.PollCron = "not a cron"
	if _, err := c.nextDelay(now); err == nil {
		t.Error("expected error for invalid cron")
	}
}

func TestCronLoopStopsOnCancel(t *testing.T) {
	c := NewCoordinator(&mockGateway{}, nil, nil, nil, Config{PollCron: "0 0 1 1 *"})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, nil)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cron loop did not stop after cancel")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxSources != 100 || cfg.PerSourceLimit != 20 || cfg.OlderLimit != 20 || cfg.FetchTimeout != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != 0 {
		t.Errorf("zero poll interval must stay disabled, got %v", cfg.PollInterval)
	}
}
