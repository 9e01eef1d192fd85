// Package otel is the structured event log of the feed pipeline.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps recent events in memory for the debug overlay.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Per-source fetches
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchError    EventKind = "fetch.error"

	// Aggregation
	KindFeedLoad   EventKind = "feed.load"
	KindFeedOlder  EventKind = "feed.older"
	KindFeedPoll   EventKind = "feed.poll"
	KindFeedBusy   EventKind = "feed.busy"
	KindPollSkip   EventKind = "poll.skip"
	KindPublishErr EventKind = "store.publish_error"

	// Presets
	KindPresetSave         EventKind = "preset.save"
	KindPresetApply        EventKind = "preset.apply"
	KindPresetDelete       EventKind = "preset.delete"
	KindPresetPersistError EventKind = "preset.persist_error"
	KindPresetEvict        EventKind = "preset.evict"
	KindPresetDropped      EventKind = "preset.dropped"

	// Ingestion
	KindIngestBatch EventKind = "ingest.batch"
	KindIngestError EventKind = "ingest.error"

	// UI
	KindKeyPress EventKind = "ui.key"
	KindNavigate EventKind = "ui.navigate"
	KindAnchor   EventKind = "ui.anchor"

	// System
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"

	// Message tracing, only when CHATFEED_TRACE is set
	KindMsgReceived EventKind = "trace.msg_received"
	KindMsgHandled  EventKind = "trace.msg_handled"
)

// Event is the universal record. Every field except Kind and Time is
// optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"` // "coord", "ui", "fetch", "presets", "main"
	SessionID string         `json:"session_id,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Source    string         `json:"source,omitempty"`
	Cursor    int64          `json:"cursor,omitempty"`
	Failed    []string       `json:"failed,omitempty"`
	PresetID  string         `json:"preset_id,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
