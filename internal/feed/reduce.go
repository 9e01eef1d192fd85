package feed

import (
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/presets"
)

// Action is a state transition request. Actions double as bubbletea
// messages: the UI forwards them to Reduce from its Update loop.
type Action interface {
	action()
}

// LoadStarted marks the start of an initial load.
type LoadStarted struct{}

// Loaded delivers the result of an initial load. A successful load replaces
// the timeline; a failed one keeps it and merges whatever arrived.
type Loaded struct {
	Batch Batch
	Err   error
}

// OlderStarted marks the start of a backward page request.
type OlderStarted struct{}

// OlderLoaded delivers a page of older history.
type OlderLoaded struct {
	Batch Batch
	Err   error
}

// Polled delivers the result of a periodic refresh.
type Polled struct {
	Batch Batch
	Err   error
}

// ApplyPreset switches the exclusion set to a saved preset.
type ApplyPreset struct {
	Preset presets.Preset
}

// ClearFilter removes every exclusion.
type ClearFilter struct{}

// ToggleSource flips one source in or out of the exclusion set.
type ToggleSource struct {
	SourceID string
}

// SetQuery replaces the search query. Empty clears it.
type SetQuery struct {
	Query string
}

// Scrolled records the viewport offset.
type Scrolled struct {
	Offset int
}

// Reset empties the timeline. The exclusion set and active preset survive.
type Reset struct{}

func (LoadStarted) action()  {}
func (Loaded) action()       {}
func (OlderStarted) action() {}
func (OlderLoaded) action()  {}
func (Polled) action()       {}
func (ApplyPreset) action()  {}
func (ClearFilter) action()  {}
func (ToggleSource) action() {}
func (SetQuery) action()     {}
func (Scrolled) action()     {}
func (Reset) action()        {}

// Reduce applies a to s and returns the new state. It never performs I/O.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case LoadStarted:
		s.Loading = true
		s.LastErr = nil
		return s

	case Loaded:
		s.Loading = false
		if a.Err == nil {
			s.Raw, s.Canonical = []model.Item{}, []model.Item{}
			s.HistoryExhausted = false
			s = s.refilter()
		}
		return s.absorb(a.Batch, a.Err)

	case OlderStarted:
		s.LoadingMore = true
		s.LastErr = nil
		return s

	case OlderLoaded:
		s.LoadingMore = false
		if a.Err == nil && len(a.Batch.Failed) == 0 && s.countNew(a.Batch.Items) == 0 {
			s.HistoryExhausted = true
			s.FailedSources = nil
			return s
		}
		return s.absorb(a.Batch, a.Err)

	case Polled:
		if s.countNew(a.Batch.Items) > 0 {
			s.HistoryExhausted = false
		}
		return s.absorb(a.Batch, a.Err)

	case ApplyPreset:
		s = s.exclude(model.NewSourceSet(a.Preset.Excluded...))
		s.ActiveFilterID = a.Preset.ID
		return s.refilter()

	case ClearFilter:
		s = s.exclude(model.SourceSet{})
		s.ActiveFilterID = ""
		return s.refilter()

	case ToggleSource:
		s = s.exclude(s.Excluded.Toggle(a.SourceID))
		s.ActiveFilterID = ""
		return s.refilter()

	case SetQuery:
		s.Query = a.Query
		return s

	case Scrolled:
		if a.Offset < 0 {
			a.Offset = 0
		}
		s.ScrollOffset = a.Offset
		s.InitialScrollDone = true
		return s

	case Reset:
		next := New()
		next.Excluded = s.Excluded
		next.ActiveFilterID = s.ActiveFilterID
		next.Query = s.Query
		return next.refilter()
	}

	return s
}

func (s State) absorb(b Batch, err error) State {
	s.LastErr = err
	s.FailedSources = b.Failed
	if len(b.Items) == 0 {
		return s
	}
	return s.merge(b.Items)
}

// exclude swaps in a new exclusion set. Re-including a source reopens
// history, since its older pages were never requested.
func (s State) exclude(next model.SourceSet) State {
	for id := range s.Excluded {
		if !next.Has(id) {
			s.HistoryExhausted = false
			break
		}
	}
	s.Excluded = next
	return s
}
