package feed

import (
	"errors"
	"testing"

	"github.com/abelbrown/chatfeed/internal/album"
	"github.com/abelbrown/chatfeed/internal/filter"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/presets"
)

func item(source, id string, date int64) model.Item {
	return model.Item{SourceID: source, ItemID: id, Date: date, HasText: true, Text: source + id}
}

func dates(items []model.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.Date
	}
	return out
}

func assertDates(t *testing.T, label string, got []model.Item, want ...int64) {
	t.Helper()
	d := dates(got)
	if len(d) != len(want) {
		t.Fatalf("%s: expected %v, got %v", label, want, d)
	}
	for i := range want {
		if d[i] != want[i] {
			t.Fatalf("%s: expected %v, got %v", label, want, d)
		}
	}
}

func assertCanonical(t *testing.T, s State) {
	t.Helper()
	if !filter.IsChronological(s.Canonical) {
		t.Errorf("canonical not sorted: %v", dates(s.Canonical))
	}
	seen := make(map[model.Key]bool)
	for _, it := range s.Canonical {
		if seen[it.Key()] {
			t.Errorf("duplicate key %s in canonical", it.Key())
		}
		seen[it.Key()] = true
	}
	if !album.Valid(s.Canonical) {
		t.Error("canonical holds more than one entry for an album")
	}
	if !filter.IsSubsequence(s.Filtered, s.Canonical) {
		t.Error("filtered is not a subsequence of canonical")
	}
}

func threeSources() Batch {
	return Batch{Items: []model.Item{
		item("A", "1", 1), item("A", "3", 3), item("A", "5", 5),
		item("B", "2", 2), item("B", "4", 4),
		item("C", "6", 6),
	}}
}

func TestLoadedMergesSources(t *testing.T) {
	s := Reduce(New(), LoadStarted{})
	if !s.Loading {
		t.Fatal("expected Loading after LoadStarted")
	}

	s = Reduce(s, Loaded{Batch: threeSources()})

	if s.Loading {
		t.Error("Loading should clear after Loaded")
	}
	assertDates(t, "canonical", s.Canonical, 1, 2, 3, 4, 5, 6)
	assertDates(t, "filtered", s.Filtered, 1, 2, 3, 4, 5, 6)
	assertCanonical(t, s)
}

func TestApplyPresetHidesSource(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})

	news := presets.Preset{ID: "p1", Name: "News", Excluded: []string{"B"}}
	s = Reduce(s, ApplyPreset{Preset: news})

	assertDates(t, "filtered", s.Filtered, 1, 3, 5, 6)
	assertDates(t, "canonical", s.Canonical, 1, 2, 3, 4, 5, 6)
	if s.ActiveFilterID != "p1" {
		t.Errorf("expected active filter p1, got %q", s.ActiveFilterID)
	}
	assertCanonical(t, s)
}

func TestApplyPresetIdempotent(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	p := presets.Preset{ID: "p1", Excluded: []string{"A", "C"}}

	once := Reduce(s, ApplyPreset{Preset: p})
	twice := Reduce(once, ApplyPreset{Preset: p})

	assertDates(t, "once", once.Filtered, 2, 4)
	assertDates(t, "twice", twice.Filtered, 2, 4)
	if once.ActiveFilterID != twice.ActiveFilterID {
		t.Error("active filter changed on reapply")
	}
}

func TestClearFilter(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p1", Excluded: []string{"B"}}})

	s = Reduce(s, ClearFilter{})

	assertDates(t, "filtered", s.Filtered, 1, 2, 3, 4, 5, 6)
	if s.ActiveFilterID != "" {
		t.Errorf("expected no active filter, got %q", s.ActiveFilterID)
	}
	if len(s.Excluded) != 0 {
		t.Errorf("expected empty exclusion set, got %v", s.Excluded.IDs())
	}
}

func TestToggleSource(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p1", Excluded: []string{"B"}}})

	s = Reduce(s, ToggleSource{SourceID: "C"})
	assertDates(t, "after excluding C", s.Filtered, 1, 3, 5)
	if s.ActiveFilterID != "" {
		t.Error("ad-hoc toggle should clear the active preset")
	}

	s = Reduce(s, ToggleSource{SourceID: "B"})
	assertDates(t, "after including B", s.Filtered, 1, 2, 3, 4, 5)
}

func TestToggleSourceDoesNotAliasPresetSlice(t *testing.T) {
	p := presets.Preset{ID: "p1", Excluded: []string{"B"}}
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: p})
	before := s.Excluded

	_ = Reduce(s, ToggleSource{SourceID: "A"})

	if before.Has("A") {
		t.Error("toggle mutated the previous state's exclusion set")
	}
}

func TestOlderLoadedPrepends(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: Batch{Items: []model.Item{item("A", "100", 100), item("A", "110", 110)}}})
	if s.Oldest() != 100 {
		t.Fatalf("expected oldest 100, got %d", s.Oldest())
	}

	s = Reduce(s, OlderStarted{})
	if !s.LoadingMore {
		t.Fatal("expected LoadingMore")
	}
	s = Reduce(s, OlderLoaded{Batch: Batch{Items: []model.Item{item("A", "90", 90), item("A", "95", 95)}}})

	if s.LoadingMore {
		t.Error("LoadingMore should clear")
	}
	if s.Oldest() != 90 {
		t.Errorf("expected oldest 90, got %d", s.Oldest())
	}
	assertDates(t, "canonical", s.Canonical, 90, 95, 100, 110)
	if s.HistoryExhausted {
		t.Error("history should not be exhausted")
	}
	assertCanonical(t, s)
}

func TestOlderLoadedEmptyMarksExhausted(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})
	s = Reduce(s, OlderStarted{})

	s = Reduce(s, OlderLoaded{Batch: Batch{}})

	if !s.HistoryExhausted {
		t.Error("expected HistoryExhausted after empty page")
	}
	if s.LoadingMore {
		t.Error("LoadingMore should clear")
	}
	assertDates(t, "canonical", s.Canonical, 1)
	if s.CanLoadOlder() {
		t.Error("CanLoadOlder should be false once exhausted")
	}
}

func TestOlderLoadedOnlyDuplicatesMarksExhausted(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})

	s = Reduce(s, OlderLoaded{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})

	if !s.HistoryExhausted {
		t.Error("a page of already-known items should exhaust history")
	}
}

func TestOlderLoadedFailureKeepsHistoryOpen(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})

	s = Reduce(s, OlderLoaded{Batch: Batch{Failed: []string{"A"}}})

	if s.HistoryExhausted {
		t.Error("a failed page must not exhaust history")
	}
	if len(s.FailedSources) != 1 || s.FailedSources[0] != "A" {
		t.Errorf("expected failed source A, got %v", s.FailedSources)
	}
}

func TestReincludedSourceReopensHistory(t *testing.T) {
	s := Reduce(New(), ToggleSource{SourceID: "B"})
	s = Reduce(s, Loaded{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})
	s = Reduce(s, OlderLoaded{Batch: Batch{}})
	if !s.HistoryExhausted {
		t.Fatal("expected HistoryExhausted after empty page")
	}

	s = Reduce(s, ToggleSource{SourceID: "C"})
	if !s.HistoryExhausted {
		t.Error("hiding another source should not reopen history")
	}

	s = Reduce(s, ToggleSource{SourceID: "B"})
	if s.HistoryExhausted {
		t.Error("re-including B should reopen history")
	}
	if !s.CanLoadOlder() {
		t.Error("CanLoadOlder should be true again")
	}

	s = Reduce(s, OlderLoaded{Batch: Batch{}})
	s = Reduce(s, ClearFilter{})
	if s.HistoryExhausted {
		t.Error("clearing the filter should reopen history")
	}

	s = Reduce(s, OlderLoaded{Batch: Batch{}})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p", Excluded: []string{"A"}}})
	if !s.HistoryExhausted {
		t.Error("a preset that only hides more should keep history closed")
	}
}

func TestPolledNewItemsReopenHistory(t *testing.T) {
	s := Reduce(New(), Loaded{})
	s = Reduce(s, OlderLoaded{Batch: Batch{}})
	if !s.HistoryExhausted {
		t.Fatal("an empty timeline with an empty page should be exhausted")
	}

	s = Reduce(s, Polled{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})
	if s.HistoryExhausted {
		t.Error("a poll that adds items should reopen history")
	}

	s = Reduce(s, OlderLoaded{Batch: Batch{}})
	s = Reduce(s, Polled{Batch: Batch{Items: []model.Item{item("A", "1", 1)}}})
	if !s.HistoryExhausted {
		t.Error("a poll of known items should leave history closed")
	}
}

func TestLoadedReplacesTimeline(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, OlderLoaded{Batch: Batch{}})

	s = Reduce(s, Loaded{Batch: Batch{Items: []model.Item{item("A", "5", 5), item("D", "9", 9)}}})

	assertDates(t, "canonical", s.Canonical, 5, 9)
	assertDates(t, "raw", s.Raw, 5, 9)
	if s.HistoryExhausted {
		t.Error("a fresh load should reopen history")
	}
	assertCanonical(t, s)
}

func TestLoadedErrorKeepsTimeline(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})

	s = Reduce(s, Loaded{Batch: Batch{Items: []model.Item{item("D", "9", 9)}}, Err: errors.New("canceled")})

	assertDates(t, "canonical", s.Canonical, 1, 2, 3, 4, 5, 6, 9)
	if s.LastErr == nil {
		t.Error("expected LastErr")
	}
}

func TestOlderLoadedCompletesSplitAlbum(t *testing.T) {
	first := Batch{Items: []model.Item{
		{SourceID: "A", ItemID: "2", Date: 11, GroupID: "g"},
		{SourceID: "A", ItemID: "3", Date: 12, HasText: true, Text: "Caption"},
	}}
	older := Batch{Items: []model.Item{
		{SourceID: "A", ItemID: "1", Date: 10, GroupID: "g"},
	}}

	s := Reduce(New(), Loaded{Batch: first})
	s = Reduce(s, OlderLoaded{Batch: older})

	if len(s.Canonical) != 1 {
		t.Fatalf("expected album to collapse across pages, got %d items", len(s.Canonical))
	}
	if s.Canonical[0].ItemID != "1" || s.Canonical[0].Text != "Caption" {
		t.Errorf("expected A/1 with caption, got %s %q", s.Canonical[0].Key(), s.Canonical[0].Text)
	}
	if s.Canonical[0].AlbumSize != 2 {
		t.Errorf("expected AlbumSize 2, got %d", s.Canonical[0].AlbumSize)
	}
	assertCanonical(t, s)
}

func TestPolledMergesWithoutLosingHistory(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})

	edited := item("A", "5", 5)
	edited.Text = "edited"
	s = Reduce(s, Polled{Batch: Batch{Items: []model.Item{edited, item("B", "7", 7)}}})

	assertDates(t, "canonical", s.Canonical, 1, 2, 3, 4, 5, 6, 7)
	for _, it := range s.Canonical {
		if it.Key() == edited.Key() && it.Text != "edited" {
			t.Errorf("polled copy should replace stored one, got %q", it.Text)
		}
	}
	assertCanonical(t, s)
}

func TestPolledRespectsExclusion(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p", Excluded: []string{"B"}}})

	s = Reduce(s, Polled{Batch: Batch{Items: []model.Item{item("B", "7", 7), item("A", "8", 8)}}})

	assertDates(t, "filtered", s.Filtered, 1, 3, 5, 6, 8)
}

func TestLoadedErrorRecorded(t *testing.T) {
	boom := errors.New("boom")
	s := Reduce(New(), LoadStarted{})

	s = Reduce(s, Loaded{Err: boom})

	if s.Loading {
		t.Error("Loading should clear even on error")
	}
	if !errors.Is(s.LastErr, boom) {
		t.Errorf("expected LastErr boom, got %v", s.LastErr)
	}
	if len(s.Canonical) != 0 {
		t.Error("expected empty canonical")
	}
}

func TestSetQueryNarrowsVisible(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p", Excluded: []string{"C"}}})

	s = Reduce(s, SetQuery{Query: "a"})

	assertDates(t, "visible", s.Visible(), 1, 3, 5)
	assertDates(t, "filtered", s.Filtered, 1, 2, 3, 4, 5)

	s = Reduce(s, SetQuery{Query: ""})
	assertDates(t, "visible after clear", s.Visible(), 1, 2, 3, 4, 5)
}

func TestScrolled(t *testing.T) {
	s := Reduce(New(), Scrolled{Offset: -4})
	if s.ScrollOffset != 0 {
		t.Errorf("negative offset should clamp to 0, got %d", s.ScrollOffset)
	}
	if !s.InitialScrollDone {
		t.Error("expected InitialScrollDone")
	}
}

func TestResetKeepsFilter(t *testing.T) {
	s := Reduce(New(), Loaded{Batch: threeSources()})
	s = Reduce(s, ApplyPreset{Preset: presets.Preset{ID: "p", Excluded: []string{"B"}}})
	s.HistoryExhausted = true

	s = Reduce(s, Reset{})

	if len(s.Canonical) != 0 || len(s.Raw) != 0 {
		t.Error("expected empty timeline after reset")
	}
	if s.ActiveFilterID != "p" || !s.Excluded.Has("B") {
		t.Error("reset should keep the active filter")
	}
	if s.HistoryExhausted {
		t.Error("reset should reopen history")
	}
}

func TestCanonicalHelper(t *testing.T) {
	raw := []model.Item{
		item("B", "1", 3),
		{SourceID: "A", ItemID: "1", Date: 10, GroupID: "g"},
		{SourceID: "A", ItemID: "2", Date: 11, GroupID: "g"},
		item("B", "1", 3),
		{SourceID: "A", ItemID: "3", Date: 12, HasText: true, Text: "Caption"},
	}

	got := Canonical(raw)

	assertDates(t, "canonical", got, 3, 10)
	if got[1].Text != "Caption" {
		t.Errorf("expected borrowed caption, got %q", got[1].Text)
	}
}
