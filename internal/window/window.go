// Package window computes which slice of a long list needs rendering.
//
// All items are assumed to have the same height. Units are whatever the
// caller measures in; the terminal UI uses lines.
package window

// Range is the materialized slice [Start, End) of the list, to be drawn
// TopOffset units below the top of a virtual canvas TotalHeight tall.
type Range struct {
	Start       int
	End         int
	TopOffset   int
	TotalHeight int
}

// Len returns the number of items in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range materializes nothing.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Compute returns the visible range for the given scroll position, padded by
// overscan items on each side.
func Compute(itemCount, scrollOffset, containerHeight, itemHeight, overscan int) Range {
	if itemCount <= 0 {
		return Range{}
	}
	if itemHeight <= 0 {
		itemHeight = 1
	}
	if scrollOffset < 0 {
		scrollOffset = 0
	}
	if containerHeight < 0 {
		containerHeight = 0
	}
	if overscan < 0 {
		overscan = 0
	}

	first := scrollOffset / itemHeight
	visible := (containerHeight + itemHeight - 1) / itemHeight

	start := max(0, first-overscan)
	end := min(itemCount, first+visible+overscan)
	if start > end {
		start = end
	}

	return Range{
		Start:       start,
		End:         end,
		TopOffset:   start * itemHeight,
		TotalHeight: itemCount * itemHeight,
	}
}

// MaxOffset returns the largest scroll offset that still fills the container.
func MaxOffset(itemCount, containerHeight, itemHeight int) int {
	if itemHeight <= 0 {
		itemHeight = 1
	}
	return max(0, itemCount*itemHeight-containerHeight)
}

// Tracker memoizes Compute for a fixed item height and overscan.
// It recomputes only when the item count, container height or scroll offset
// change.
type Tracker struct {
	ItemHeight int
	Overscan   int

	valid           bool
	itemCount       int
	scrollOffset    int
	containerHeight int
	last            Range
	computes        int
}

// NewTracker returns a Tracker for the given geometry.
func NewTracker(itemHeight, overscan int) *Tracker {
	return &Tracker{ItemHeight: itemHeight, Overscan: overscan}
}

// Range returns the current range, recomputing if any input changed.
func (t *Tracker) Range(itemCount, scrollOffset, containerHeight int) Range {
	if t.valid &&
		itemCount == t.itemCount &&
		scrollOffset == t.scrollOffset &&
		containerHeight == t.containerHeight {
		return t.last
	}

	t.last = Compute(itemCount, scrollOffset, containerHeight, t.ItemHeight, t.Overscan)
	t.itemCount = itemCount
	t.scrollOffset = scrollOffset
	t.containerHeight = containerHeight
	t.valid = true
	t.computes++
	return t.last
}

// Invalidate forces the next Range call to recompute.
func (t *Tracker) Invalidate() {
	t.valid = false
}

// Computes returns how many times the range was actually computed.
func (t *Tracker) Computes() int {
	return t.computes
}
