// Package album collapses multi-part media groups into a single feed entry.
//
// Chat clients send an album as several messages sharing a group ID, with the
// caption on at most one of them (and sometimes in a separate text message
// sent right after the media). The feed shows one entry per album.
package album

import (
	"github.com/abelbrown/chatfeed/internal/filter"
	"github.com/abelbrown/chatfeed/internal/model"
)

type groupKey struct {
	sourceID string
	groupID  string
}

// Consolidate returns items with every album reduced to one representative.
//
// The representative is the first member carrying text. When no member has
// text, the first member is used and the first later standalone text item from
// the same source donates its text as the caption; the donor is then removed.
// The result is sorted chronologically. Consolidate is pure and deterministic.
func Consolidate(items []model.Item) []model.Item {
	if len(items) == 0 {
		return []model.Item{}
	}

	var standalone []model.Item
	groups := make(map[groupKey][]model.Item)
	var order []groupKey

	for _, item := range items {
		if !item.Grouped() {
			standalone = append(standalone, item)
			continue
		}
		k := groupKey{item.SourceID, item.GroupID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	// Standalone items sorted once so the donor search finds the earliest
	// eligible caption regardless of input order.
	standalone = filter.SortChronological(standalone)
	consumed := make(map[model.Key]bool)

	result := make([]model.Item, 0, len(standalone)+len(order))
	for _, k := range order {
		members := groups[k]
		rep, ok := firstWithText(members)
		if !ok {
			rep = members[0]
			if donor, found := findCaption(standalone, k.sourceID, maxDate(members), consumed); found {
				rep.Text = donor.Text
				rep.HasText = true
				rep.CaptionFrom = donor.Key()
				consumed[donor.Key()] = true
			}
		}
		rep.AlbumSize = len(members)
		result = append(result, rep)
	}

	for _, item := range standalone {
		if consumed[item.Key()] {
			continue
		}
		result = append(result, item)
	}

	return filter.SortChronological(result)
}

func firstWithText(members []model.Item) (model.Item, bool) {
	for _, m := range members {
		if m.HasText && m.Text != "" {
			return m, true
		}
	}
	return model.Item{}, false
}

func maxDate(members []model.Item) int64 {
	max := members[0].Date
	for _, m := range members[1:] {
		if m.Date > max {
			max = m.Date
		}
	}
	return max
}

func findCaption(standalone []model.Item, sourceID string, after int64, consumed map[model.Key]bool) (model.Item, bool) {
	for _, s := range standalone {
		if s.SourceID != sourceID || s.Date <= after {
			continue
		}
		if !s.HasText || s.Text == "" {
			continue
		}
		if consumed[s.Key()] {
			continue
		}
		return s, true
	}
	return model.Item{}, false
}

// Valid reports whether items hold at most one entry per album.
func Valid(items []model.Item) bool {
	seen := make(map[groupKey]bool)
	for _, item := range items {
		if !item.Grouped() {
			continue
		}
		k := groupKey{item.SourceID, item.GroupID}
		if seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}
