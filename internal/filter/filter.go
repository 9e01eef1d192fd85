// Package filter provides pure filter functions for feed items.
// All functions are simple: []Item in, []Item out. No side effects, and the
// input slice is never modified.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/chatfeed/internal/model"
)

// ExcludeSources drops items whose source is in excluded.
// Relative order is preserved, so the result is always a subsequence of items.
func ExcludeSources(items []model.Item, excluded model.SourceSet) []model.Item {
	if len(items) == 0 {
		return []model.Item{}
	}

	result := make([]model.Item, 0, len(items))
	for _, item := range items {
		if excluded.Has(item.SourceID) {
			continue
		}
		result = append(result, item)
	}

	return result
}

// BySource keeps only items from the specified source IDs.
func BySource(items []model.Item, sources []string) []model.Item {
	if len(items) == 0 || len(sources) == 0 {
		return []model.Item{}
	}

	allowed := model.NewSourceSet(sources...)

	result := make([]model.Item, 0, len(items))
	for _, item := range items {
		if allowed.Has(item.SourceID) {
			result = append(result, item)
		}
	}

	return result
}

// ByAge removes items older than maxAge relative to now.
func ByAge(items []model.Item, maxAge time.Duration, now time.Time) []model.Item {
	if len(items) == 0 {
		return []model.Item{}
	}

	cutoff := now.Add(-maxAge).Unix()
	result := make([]model.Item, 0, len(items))

	for _, item := range items {
		if item.Date > cutoff {
			result = append(result, item)
		}
	}

	return result
}

// Dedup collapses items sharing a composite key. The last occurrence wins,
// so a refetched item replaces the stale copy. The surviving entry keeps the
// position of the first occurrence.
func Dedup(items []model.Item) []model.Item {
	if len(items) == 0 {
		return []model.Item{}
	}

	pos := make(map[model.Key]int, len(items))
	result := make([]model.Item, 0, len(items))

	for _, item := range items {
		k := item.Key()
		if i, ok := pos[k]; ok {
			result[i] = item
			continue
		}
		pos[k] = len(result)
		result = append(result, item)
	}

	return result
}

// SortChronological returns a copy sorted ascending by Date.
// Ties are broken by source and item ID so the order is deterministic.
func SortChronological(items []model.Item) []model.Item {
	result := make([]model.Item, len(items))
	copy(result, items)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Before(result[j])
	})
	return result
}

// IsChronological reports whether items are non-decreasing by Date.
func IsChronological(items []model.Item) bool {
	for i := 1; i < len(items); i++ {
		if items[i].Date < items[i-1].Date {
			return false
		}
	}
	return true
}

// LimitPerSource caps the number of items per source, keeping the newest.
// The result is sorted chronologically.
func LimitPerSource(items []model.Item, maxPerSource int) []model.Item {
	if len(items) == 0 || maxPerSource <= 0 {
		return []model.Item{}
	}

	bySource := make(map[string][]model.Item)
	for _, item := range items {
		bySource[item.SourceID] = append(bySource[item.SourceID], item)
	}

	result := make([]model.Item, 0, len(items))
	for _, sourceItems := range bySource {
		sorted := SortChronological(sourceItems)
		if len(sorted) > maxPerSource {
			sorted = sorted[len(sorted)-maxPerSource:]
		}
		result = append(result, sorted...)
	}

	// map iteration order is random
	return SortChronological(result)
}

// Search keeps items whose text contains every whitespace-separated term of
// query, case-insensitively. An empty query keeps everything.
func Search(items []model.Item, query string) []model.Item {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		result := make([]model.Item, len(items))
		copy(result, items)
		return result
	}

	result := make([]model.Item, 0, len(items))
	for _, item := range items {
		if !item.HasText {
			continue
		}
		text := strings.ToLower(item.Text)
		match := true
		for _, term := range terms {
			if !strings.Contains(text, term) {
				match = false
				break
			}
		}
		if match {
			result = append(result, item)
		}
	}

	return result
}

// IsSubsequence reports whether sub appears in full in the same relative
// order, compared by key.
func IsSubsequence(sub, full []model.Item) bool {
	j := 0
	for i := 0; i < len(full) && j < len(sub); i++ {
		if full[i].Key() == sub[j].Key() {
			j++
		}
	}
	return j == len(sub)
}
