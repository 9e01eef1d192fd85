// Package feed holds the view model of the aggregated timeline.
//
// State is an explicit container updated only through Reduce. Two timelines
// live side by side: the canonical timeline holds everything that was loaded,
// and the filtered timeline is derived from it by excluding sources. Switching
// filters therefore never touches the network.
package feed

import (
	"github.com/abelbrown/chatfeed/internal/album"
	"github.com/abelbrown/chatfeed/internal/filter"
	"github.com/abelbrown/chatfeed/internal/model"
)

// Batch is the joined result of one fan-out over the eligible sources.
type Batch struct {
	Items []model.Item

	// Failed lists the source IDs whose fetch errored. The rest of the
	// batch is still usable.
	Failed []string
}

// State is the feed view model.
type State struct {
	// Raw is the deduplicated, unconsolidated superset of everything loaded.
	// Consolidation runs over it on every merge so an album split across two
	// pages still collapses.
	Raw []model.Item

	Canonical []model.Item
	Filtered  []model.Item

	Excluded       model.SourceSet
	ActiveFilterID string

	// Query is the live text search, applied after the exclusion filter.
	Query string

	Loading     bool
	LoadingMore bool

	ScrollOffset      int
	InitialScrollDone bool
	HistoryExhausted  bool

	LastErr       error
	FailedSources []string
}

// New returns an empty state.
func New() State {
	return State{
		Raw:       []model.Item{},
		Canonical: []model.Item{},
		Filtered:  []model.Item{},
		Excluded:  model.SourceSet{},
	}
}

// Canonical builds a canonical timeline from raw items: dedup by key with the
// last occurrence winning, chronological sort, album consolidation.
func Canonical(raw []model.Item) []model.Item {
	return album.Consolidate(filter.SortChronological(filter.Dedup(raw)))
}

// Visible returns the filtered timeline narrowed by the current query.
func (s State) Visible() []model.Item {
	if s.Query == "" {
		return s.Filtered
	}
	return filter.Search(s.Filtered, s.Query)
}

// Oldest returns the Date of the oldest canonical item, or 0 when empty.
func (s State) Oldest() int64 {
	if len(s.Canonical) == 0 {
		return 0
	}
	return s.Canonical[0].Date
}

// Busy reports whether any load is in flight.
func (s State) Busy() bool {
	return s.Loading || s.LoadingMore
}

// CanLoadOlder reports whether a backward page request makes sense now.
func (s State) CanLoadOlder() bool {
	return !s.Busy() && !s.HistoryExhausted
}

// merge folds new items into the raw superset and rebuilds both timelines.
// New items come last so a refetched copy replaces the stored one.
func (s State) merge(items []model.Item) State {
	combined := make([]model.Item, 0, len(s.Raw)+len(items))
	combined = append(combined, s.Raw...)
	combined = append(combined, items...)

	s.Raw = filter.SortChronological(filter.Dedup(combined))
	s.Canonical = album.Consolidate(s.Raw)
	return s.refilter()
}

func (s State) refilter() State {
	s.Filtered = filter.ExcludeSources(s.Canonical, s.Excluded)
	return s
}

// countNew returns how many items of batch are not yet in the raw superset.
func (s State) countNew(items []model.Item) int {
	known := make(map[model.Key]bool, len(s.Raw))
	for _, it := range s.Raw {
		known[it.Key()] = true
	}
	n := 0
	for _, it := range items {
		if !known[it.Key()] {
			known[it.Key()] = true
			n++
		}
	}
	return n
}
