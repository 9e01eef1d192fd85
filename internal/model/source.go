package model

import "strings"

// SourceKind classifies a chat source.
type SourceKind string

const (
	KindChannel    SourceKind = "channel"
	KindGroup      SourceKind = "group"
	KindBasicGroup SourceKind = "basic_group"
)

// ParseSourceKind maps a config or storage string to a SourceKind.
// Unknown values map to the empty kind, which is never eligible for the feed.
func ParseSourceKind(s string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "channel":
		return KindChannel
	case "group", "supergroup":
		return KindGroup
	case "basic_group", "basicgroup", "basic-group":
		return KindBasicGroup
	default:
		return ""
	}
}

// Source is a chat the feed treats as a content origin.
// Sources are supplied externally and are immutable for a session.
type Source struct {
	ID    string
	Title string
	Kind  SourceKind

	// Self marks the user's own "saved messages" chat. Never part of the feed.
	Self bool

	// FeedURL is set for channels mirrored as RSS; empty means the
	// source is served from the local message store.
	FeedURL string
}

// Feedable reports whether the source kind may contribute to the feed.
func (s Source) Feedable() bool {
	if s.Self {
		return false
	}
	return s.Kind == KindChannel || s.Kind == KindGroup
}

// SourceSet is a set of source IDs.
type SourceSet map[string]struct{}

// NewSourceSet builds a set from ids, skipping blanks.
func NewSourceSet(ids ...string) SourceSet {
	set := make(SourceSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// Has reports membership. A nil set contains nothing.
func (s SourceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy.
func (s SourceSet) Clone() SourceSet {
	out := make(SourceSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Toggle returns a copy with id's membership flipped.
func (s SourceSet) Toggle(id string) SourceSet {
	out := s.Clone()
	if out.Has(id) {
		delete(out, id)
	} else {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the members in unspecified order.
func (s SourceSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
