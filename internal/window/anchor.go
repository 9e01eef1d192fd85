package window

// Anchor keeps the viewport steady when content is inserted above it.
//
// The caller captures the height of the content above the first visible item
// before mutating the list and resolves with the height above that same item
// right after, before the next paint. If that height grew while the viewport
// sat near the top, the offset is pushed down by the growth so the items the
// user was looking at stay put. Growth below the viewport is never measured.
type Anchor struct {
	// NearTop is the distance from the top within which anchoring applies.
	NearTop int

	captured     bool
	above        int
	scrollOffset int
}

// NewAnchor returns an Anchor that applies within nearTop of the top.
func NewAnchor(nearTop int) *Anchor {
	return &Anchor{NearTop: nearTop}
}

// Capture records the layout before a mutation. A second Capture replaces
// the first.
func (a *Anchor) Capture(above, scrollOffset int) {
	a.captured = true
	a.above = above
	a.scrollOffset = scrollOffset
}

// Pending reports whether a capture is waiting to be resolved.
func (a *Anchor) Pending() bool {
	return a.captured
}

// Resolve returns the scroll offset to use after the mutation and clears the
// capture. Without a pending capture it returns current unchanged, so a late
// or repeated resolve cannot shift the viewport twice.
func (a *Anchor) Resolve(above, current int) int {
	if !a.captured {
		return current
	}
	a.captured = false

	delta := above - a.above
	if delta <= 0 {
		return current
	}
	if a.scrollOffset > a.NearTop {
		return current
	}
	return a.scrollOffset + delta
}
