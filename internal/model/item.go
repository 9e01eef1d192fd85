// Package model holds the data types shared by the feed pipeline.
//
// Items are plain values. Nothing in the pipeline mutates an Item in place:
// an update is expressed by replacing the item stored at its Key.
package model

import (
	"fmt"
	"time"
)

// Key is the composite identity of a feed item.
type Key struct {
	SourceID string
	ItemID   string
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.SourceID == "" && k.ItemID == ""
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.SourceID, k.ItemID)
}

// MediaKind describes the attachment type of an item.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaLink     MediaKind = "link"
)

// Media is an optional attachment descriptor. The feed never downloads it.
type Media struct {
	Kind     MediaKind `json:"kind"`
	FileID   string    `json:"file_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Duration int       `json:"duration,omitempty"` // seconds
}

// Reaction is one entry of an item's reaction summary.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Item is one message in the feed.
type Item struct {
	SourceID string
	ItemID   string

	// Date is unix seconds. Monotonic per source, only roughly ordered
	// across sources.
	Date int64

	// GroupID is set for album members.
	GroupID string

	HasText bool
	Text    string

	Media     *Media
	Reactions []Reaction

	// AlbumSize is the number of album members folded into this entry.
	// Zero for standalone items.
	AlbumSize int

	// CaptionFrom is the key of the standalone item whose text was borrowed
	// as this album's caption. Zero when the text is the item's own.
	CaptionFrom Key
}

// Key returns the item's composite identity.
func (it Item) Key() Key {
	return Key{SourceID: it.SourceID, ItemID: it.ItemID}
}

// Time returns Date as a time.Time.
func (it Item) Time() time.Time {
	return time.Unix(it.Date, 0)
}

// Grouped reports whether the item belongs to an album.
func (it Item) Grouped() bool {
	return it.GroupID != ""
}

// TotalReactions sums the reaction counts.
func (it Item) TotalReactions() int {
	n := 0
	for _, r := range it.Reactions {
		n += r.Count
	}
	return n
}

// Before is the canonical ordering: by Date, then SourceID, then ItemID.
func (it Item) Before(other Item) bool {
	if it.Date != other.Date {
		return it.Date < other.Date
	}
	if it.SourceID != other.SourceID {
		return it.SourceID < other.SourceID
	}
	return it.ItemID < other.ItemID
}
