// Package presets manages named source-exclusion filters.
//
// The collection is persisted as one JSON array under a single namespaced
// key. Persistence is best effort: a failed write is logged and retried with
// fewer presets, and the in-memory change always stands.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/abelbrown/chatfeed/internal/kv"
	"github.com/abelbrown/chatfeed/internal/logging"
	"github.com/abelbrown/chatfeed/internal/metrics"
	"github.com/abelbrown/chatfeed/internal/otel"
)

// StorageKey is where the collection lives in the KV store.
const StorageKey = "chatfeed/filter-presets/v1"

const (
	MaxPresets      = 50
	MaxNameLen      = 100
	MaxExcluded     = 500
	persistAttempts = 4
)

var (
	ErrEmptyName      = errors.New("presets: name is empty")
	ErrNameTooLong    = fmt.Errorf("presets: name longer than %d characters", MaxNameLen)
	ErrTooManySources = fmt.Errorf("presets: more than %d excluded sources", MaxExcluded)
	ErrPresetLimit    = fmt.Errorf("presets: at most %d presets", MaxPresets)
	ErrNotFound       = errors.New("presets: not found")
	ErrDuplicateName  = errors.New("presets: name already in use")
)

// Preset is a saved set of excluded source IDs.
type Preset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Excluded  []string  `json:"excluded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Preset) clone() Preset {
	p.Excluded = append([]string(nil), p.Excluded...)
	return p
}

// Manager owns the preset collection. Goroutine-safe.
type Manager struct {
	mu      sync.Mutex
	store   kv.KV
	events  *otel.Logger
	presets []Preset // creation order, oldest first
	now     func() time.Time

	// persisted is how many presets the last successful write contained.
	persisted int
	lastErr   error
}

// NewManager returns an empty manager. Call Load to read the stored
// collection. events may be nil.
func NewManager(store kv.KV, events *otel.Logger) *Manager {
	return &Manager{
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// Load replaces the in-memory collection with the stored one. Malformed
// entries are dropped silently and the cleaned collection is written back.
// A missing key is an empty collection.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.store.Get(StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		m.presets = nil
		m.persisted = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	loaded, dropped := decode(data)
	m.presets = loaded
	m.persisted = len(loaded)

	if dropped > 0 {
		logging.Warn("dropped malformed presets", "count", dropped)
		m.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPresetDropped, Comp: "presets", Count: dropped})
		m.persistLocked()
	}
	return nil
}

// decode parses the stored array, keeping only well-formed entries.
func decode(data []byte) ([]Preset, int) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// the whole payload is unusable; count it as one dropped entry
		return nil, 1
	}

	var out []Preset
	ids := make(map[string]bool)
	names := make(map[string]bool)
	dropped := 0
	for _, r := range raw {
		var p Preset
		if err := json.Unmarshal(r, &p); err != nil {
			dropped++
			continue
		}
		name, nerr := normalizeName(p.Name)
		excluded, xerr := normalizeExcluded(p.Excluded)
		if p.ID == "" || nerr != nil || xerr != nil || ids[p.ID] || names[strings.ToLower(name)] || len(out) >= MaxPresets {
			dropped++
			continue
		}
		p.Name = name
		p.Excluded = excluded
		ids[p.ID] = true
		names[strings.ToLower(name)] = true
		out = append(out, p)
	}
	return out, dropped
}

// List returns a copy of all presets, oldest first.
func (m *Manager) List() []Preset {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Preset, len(m.presets))
	for i, p := range m.presets {
		out[i] = p.clone()
	}
	return out
}

// Len returns the number of presets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.presets)
}

// Get returns the preset with id.
func (m *Manager) Get(id string) (Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	return m.presets[i].clone(), nil
}

// FindByName returns the preset whose name matches case-insensitively.
func (m *Manager) FindByName(name string) (Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = strings.TrimSpace(name)
	for _, p := range m.presets {
		if strings.EqualFold(p.Name, name) {
			return p.clone(), nil
		}
	}
	return Preset{}, ErrNotFound
}

// Save creates a preset. Validation failures leave the collection unchanged.
func (m *Manager) Save(name string, excluded []string) (Preset, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Preset{}, err
	}
	ids, err := normalizeExcluded(excluded)
	if err != nil {
		return Preset{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.presets) >= MaxPresets {
		return Preset{}, ErrPresetLimit
	}
	if m.nameTaken(name, "") {
		return Preset{}, ErrDuplicateName
	}

	now := m.now()
	p := Preset{
		ID:        uuid.NewString(),
		Name:      name,
		Excluded:  ids,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.presets = append(m.presets, p)

	logging.Info("preset saved", "id", p.ID, "name", p.Name, "excluded", len(p.Excluded))
	m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPresetSave, Comp: "presets", PresetID: p.ID, Count: len(p.Excluded)})
	m.persistLocked()
	return p.clone(), nil
}

// Update replaces the excluded set of an existing preset.
func (m *Manager) Update(id string, excluded []string) (Preset, error) {
	ids, err := normalizeExcluded(excluded)
	if err != nil {
		return Preset{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	m.presets[i].Excluded = ids
	m.presets[i].UpdatedAt = m.now()

	m.persistLocked()
	return m.presets[i].clone(), nil
}

// Rename changes the name of an existing preset.
func (m *Manager) Rename(id, name string) (Preset, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Preset{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return Preset{}, ErrNotFound
	}
	if m.nameTaken(name, id) {
		return Preset{}, ErrDuplicateName
	}
	m.presets[i].Name = name
	m.presets[i].UpdatedAt = m.now()

	m.persistLocked()
	return m.presets[i].clone(), nil
}

// Delete removes a preset.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	m.presets = append(m.presets[:i:i], m.presets[i+1:]...)

	m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPresetDelete, Comp: "presets", PresetID: id})
	m.persistLocked()
	return nil
}

// Persisted returns how many presets the last successful write stored.
func (m *Manager) Persisted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persisted
}

// LastPersistError returns the error of the last failed write, or nil if the
// last persist attempt sequence succeeded.
func (m *Manager) LastPersistError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// persistLocked writes the collection, evicting the oldest presets from the
// payload after each failed attempt. The in-memory list is never trimmed.
// Caller holds m.mu.
func (m *Manager) persistLocked() {
	payload := m.presets
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		data, err := json.Marshal(nonNil(payload))
		if err == nil {
			err = m.store.Set(StorageKey, data)
		}
		if err == nil {
			if attempt > 1 {
				logging.Warn("presets persisted with eviction", "kept", len(payload), "total", len(m.presets))
				m.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPresetEvict, Comp: "presets", Count: len(m.presets) - len(payload)})
			}
			m.persisted = len(payload)
			m.lastErr = nil
			return
		}

		m.lastErr = err
		metrics.PresetPersistFailures.Inc()
		logging.Error("persist presets failed", "attempt", attempt, "presets", len(payload), "error", err)
		m.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindPresetPersistError, Comp: "presets", Count: len(payload), Err: err.Error()})

		if len(payload) == 0 {
			return
		}
		payload = evictOldest(payload)
	}
}

// evictOldest drops the oldest quarter of presets by CreatedAt, at least one,
// keeping the order of the rest.
func evictOldest(presets []Preset) []Preset {
	sorted := make([]Preset, len(presets))
	copy(sorted, presets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	n := max(1, len(sorted)/4)
	drop := make(map[string]bool, n)
	for _, p := range sorted[:n] {
		drop[p.ID] = true
	}

	out := make([]Preset, 0, len(presets)-n)
	for _, p := range presets {
		if !drop[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(p []Preset) []Preset {
	if p == nil {
		return []Preset{}
	}
	return p
}

func (m *Manager) indexOf(id string) int {
	for i, p := range m.presets {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) nameTaken(name, exceptID string) bool {
	for _, p := range m.presets {
		if p.ID != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

// normalizeExcluded trims, drops blanks and duplicates, and sorts.
func normalizeExcluded(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) > MaxExcluded {
		return nil, ErrTooManySources
	}
	sort.Strings(out)
	return out, nil
}
