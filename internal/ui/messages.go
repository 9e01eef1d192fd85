// Package ui provides the Bubble Tea TUI for chatfeed.
//
// Loads arrive as feed actions (feed.Loaded, feed.OlderLoaded, feed.Polled)
// and are applied through feed.Reduce inside Update, the single writer of the
// feed state.
package ui

import "github.com/abelbrown/chatfeed/internal/presets"

// PresetsChanged is sent after a preset command finished. Presets is the full
// collection after the change.
type PresetsChanged struct {
	Presets []presets.Preset

	// Saved is the preset that was created, nil for deletes.
	Saved *presets.Preset
	Err   error
}

// NavigateDone is sent when the navigation callback finished.
type NavigateDone struct {
	Target string
	Err    error
}

// statusClear hides the transient status message.
type statusClear struct {
	seq int
}
