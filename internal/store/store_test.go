package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/abelbrown/chatfeed/internal/model"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func msg(source, id string, date int64) model.Item {
	return model.Item{SourceID: source, ItemID: id, Date: date, HasText: true, Text: fmt.Sprintf("%s-%s", source, id)}
}

func TestOpen(t *testing.T) {
	st := openMem(t)

	for _, table := range []string{"items", "sources"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := openMem(t)
	b := openMem(t)

	if _, err := a.SaveItems([]model.Item{msg("A", "1", 1)}); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	st, err := b.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Items != 0 {
		t.Errorf("second in-memory store should be empty, has %d items", st.Items)
	}
}

func TestSaveItemsCountsNew(t *testing.T) {
	st := openMem(t)

	n, err := st.SaveItems([]model.Item{msg("A", "1", 1), msg("A", "2", 2), msg("B", "1", 3)})
	if err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 new, got %d", n)
	}

	edited := msg("A", "1", 1)
	edited.Text = "edited"
	n, err = st.SaveItems([]model.Item{edited, msg("A", "3", 4)})
	if err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 new, got %d", n)
	}

	got, err := st.Item(model.Key{SourceID: "A", ItemID: "1"})
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if got.Text != "edited" {
		t.Errorf("upsert should replace text, got %q", got.Text)
	}
}

func TestSaveItemsEmptySlice(t *testing.T) {
	st := openMem(t)
	n, err := st.SaveItems(nil)
	if err != nil || n != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestItemRoundTripExtras(t *testing.T) {
	st := openMem(t)

	in := model.Item{
		SourceID:  "A",
		ItemID:    "7",
		Date:      100,
		GroupID:   "g1",
		Media:     &model.Media{Kind: model.MediaPhoto, FileID: "f", Width: 640, Height: 480},
		Reactions: []model.Reaction{{Emoji: "👍", Count: 3}},
	}
	if _, err := st.SaveItems([]model.Item{in}); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	got, err := st.Item(in.Key())
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if got.GroupID != "g1" || got.HasText {
		t.Errorf("unexpected fields: %+v", got)
	}
	if got.Media == nil || got.Media.Kind != model.MediaPhoto || got.Media.Width != 640 {
		t.Errorf("media not round-tripped: %+v", got.Media)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Count != 3 {
		t.Errorf("reactions not round-tripped: %+v", got.Reactions)
	}

	_, err = st.Item(model.Key{SourceID: "A", ItemID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPage(t *testing.T) {
	st := openMem(t)

	var items []model.Item
	for i := 1; i <= 10; i++ {
		items = append(items, msg("A", fmt.Sprintf("%02d", i), int64(i*10)))
	}
	items = append(items, msg("B", "1", 55))
	if _, err := st.SaveItems(items); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	newest, err := st.Page("A", 0, 3)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(newest) != 3 || newest[0].Date != 80 || newest[2].Date != 100 {
		t.Errorf("expected dates 80..100 ascending, got %+v", newest)
	}

	older, err := st.Page("A", 80, 3)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(older) != 3 || older[0].Date != 50 || older[2].Date != 70 {
		t.Errorf("expected dates 50..70, got %+v", older)
	}
	for _, it := range older {
		if it.Date >= 80 {
			t.Errorf("page must be strictly older than cursor, got %d", it.Date)
		}
		if it.SourceID != "A" {
			t.Errorf("page leaked other source %s", it.SourceID)
		}
	}

	tail, err := st.Page("A", 20, 5)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(tail) != 1 || tail[0].Date != 10 {
		t.Errorf("expected only the oldest item, got %+v", tail)
	}

	none, err := st.Page("A", 10, 5)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil page, got %#v", none)
	}
}

func TestSources(t *testing.T) {
	st := openMem(t)

	err := st.UpsertSources([]model.Source{
		{ID: "2", Title: "Zeta", Kind: model.KindGroup},
		{ID: "1", Title: "Alpha", Kind: model.KindChannel, FeedURL: "https://example.com/rss"},
		{ID: "me", Title: "Saved", Kind: model.KindChannel, Self: true},
	})
	if err != nil {
		t.Fatalf("UpsertSources: %v", err)
	}
	if err := st.UpsertSources([]model.Source{{ID: "2", Title: "Beta", Kind: model.KindBasicGroup}}); err != nil {
		t.Fatalf("UpsertSources: %v", err)
	}

	srcs, err := st.Sources()
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(srcs) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(srcs))
	}
	if srcs[0].Title != "Alpha" || srcs[0].FeedURL == "" {
		t.Errorf("unexpected first source: %+v", srcs[0])
	}
	if srcs[1].Title != "Beta" || srcs[1].Kind != model.KindBasicGroup {
		t.Errorf("upsert should update title and kind: %+v", srcs[1])
	}
	if !srcs[2].Self {
		t.Errorf("self flag lost: %+v", srcs[2])
	}

	_, err = st.Source("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	st := openMem(t)

	empty, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if empty.Items != 0 || !empty.Oldest.IsZero() {
		t.Errorf("unexpected empty stats: %+v", empty)
	}

	st.UpsertSources([]model.Source{{ID: "A", Title: "A", Kind: model.KindChannel}})
	st.SaveItems([]model.Item{msg("A", "1", 100), msg("A", "2", 300)})

	got, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got.Sources != 1 || got.Items != 2 || got.Oldest.Unix() != 100 || got.Newest.Unix() != 300 {
		t.Errorf("unexpected stats: %+v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := openMem(t)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				src := fmt.Sprintf("S%d", w)
				if _, err := st.SaveItems([]model.Item{msg(src, fmt.Sprint(i), int64(i))}); err != nil {
					t.Errorf("SaveItems: %v", err)
					return
				}
				if _, err := st.Page(src, 0, 5); err != nil {
					t.Errorf("Page: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats, err := st.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Items != 100 {
		t.Errorf("expected 100 items, got %d", stats.Items)
	}
}

func TestFileStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st.SaveItems([]model.Item{msg("A", "1", 1)})
	st.Close()

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	if _, err := st.Item(model.Key{SourceID: "A", ItemID: "1"}); err != nil {
		t.Errorf("item lost across reopen: %v", err)
	}
}
