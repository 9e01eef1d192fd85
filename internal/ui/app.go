package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatfeed/internal/coord"
	"github.com/abelbrown/chatfeed/internal/feed"
	"github.com/abelbrown/chatfeed/internal/metrics"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/otel"
	"github.com/abelbrown/chatfeed/internal/presets"
	"github.com/abelbrown/chatfeed/internal/window"
)

const statusTTL = 4 * time.Second

type inputMode int

const (
	modeStream inputMode = iota
	modeSearch
	modePresetName
)

// AppConfig wires the App to the rest of the program. Every func may be nil.
type AppConfig struct {
	LoadInitial  func() tea.Cmd
	LoadOlder    func(cursor int64) tea.Cmd
	SavePreset   func(name string, excluded []string) tea.Cmd
	DeletePreset func(id string) tea.Cmd
	Navigate     func(key model.Key) tea.Cmd

	// FilterChanged receives the exclusion set after every filter change so
	// background polling can honor it.
	FilterChanged func(excluded model.SourceSet)

	Sources []model.Source
	Presets []presets.Preset

	Ring   *otel.RingBuffer
	Events *otel.Logger

	ItemHeight int
	Overscan   int
	NearTop    int

	Now func() time.Time
}

// App is the root Bubble Tea model.
// IMPORTANT: App does no I/O. Loads, preset writes and navigation are
// commands supplied through AppConfig and their results come back as messages.
type App struct {
	cfg     AppConfig
	state   feed.State
	titles  map[string]string
	presets []presets.Preset

	tracker *window.Tracker
	anchor  *window.Anchor

	cursor  int
	mode    inputMode
	input   textinput.Model
	spinner spinner.Model

	showDebug bool
	status    string
	statusSeq int

	width  int
	height int
	ready  bool
}

// NewApp creates the App. The initial load is reported as in flight when
// cfg.LoadInitial is set, matching the command Init returns.
func NewApp(cfg AppConfig) App {
	if cfg.ItemHeight <= 0 {
		cfg.ItemHeight = 3
	}
	if cfg.Overscan < 0 {
		cfg.Overscan = 0
	}
	if cfg.NearTop <= 0 {
		cfg.NearTop = 2 * cfg.ItemHeight
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	titles := make(map[string]string, len(cfg.Sources))
	for _, s := range cfg.Sources {
		titles[s.ID] = s.Title
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ti := textinput.New()
	ti.CharLimit = presets.MaxNameLen

	a := App{
		cfg:     cfg,
		state:   feed.New(),
		titles:  titles,
		presets: append([]presets.Preset(nil), cfg.Presets...),
		tracker: window.NewTracker(cfg.ItemHeight, cfg.Overscan),
		anchor:  window.NewAnchor(cfg.NearTop),
		input:   ti,
		spinner: sp,
	}
	if cfg.LoadInitial != nil {
		a.state = feed.Reduce(a.state, feed.LoadStarted{})
	}
	return a
}

// Init starts the spinner and the initial load.
func (a App) Init() tea.Cmd {
	if a.cfg.LoadInitial == nil {
		return a.spinner.Tick
	}
	return tea.Batch(a.spinner.Tick, a.cfg.LoadInitial())
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if otel.TraceEnabled() {
		start := time.Now()
		a.cfg.Events.Emit(otel.Event{Kind: otel.KindMsgReceived, Comp: "ui", Msg: fmt.Sprintf("%T", msg)})
		defer func() {
			a.cfg.Events.Emit(otel.Event{Kind: otel.KindMsgHandled, Comp: "ui", Msg: fmt.Sprintf("%T", msg), Dur: time.Since(start)})
		}()
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.input.Width = max(10, msg.Width-20)
		a = a.followCursor()
		return a, nil

	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case feed.Loaded:
		a = a.applyMerge(msg)
		if msg.Err != nil {
			return a.setStatus("load failed: " + msg.Err.Error())
		}
		return a.reportFailed(msg.Batch.Failed)

	case feed.OlderLoaded:
		a = a.applyMerge(msg)
		switch {
		case errors.Is(msg.Err, coord.ErrBusy):
			return a.setStatus("a load is already running")
		case msg.Err != nil:
			return a.setStatus("older history failed: " + msg.Err.Error())
		case a.state.HistoryExhausted:
			return a.setStatus("beginning of history")
		}
		return a.reportFailed(msg.Batch.Failed)

	case feed.Polled:
		a = a.applyMerge(msg)
		return a, nil

	case PresetsChanged:
		if msg.Err != nil {
			return a.setStatus("preset: " + msg.Err.Error())
		}
		a.presets = msg.Presets
		if msg.Saved != nil {
			a = a.applyFilter(feed.ApplyPreset{Preset: *msg.Saved})
			return a.setStatus("saved preset " + msg.Saved.Name)
		}
		if a.state.ActiveFilterID != "" && a.presetIndex(a.state.ActiveFilterID) < 0 {
			// the active preset is gone, keep its exclusions as an ad-hoc filter
			a.state.ActiveFilterID = ""
		}
		return a, nil

	case NavigateDone:
		if msg.Err != nil {
			return a.setStatus("open failed: " + msg.Err.Error())
		}
		return a.setStatus("opened " + msg.Target)

	case statusClear:
		if msg.seq == a.statusSeq {
			a.status = ""
		}
		return a, nil
	}

	return a, nil
}

// applyMerge runs a load result through the reducer with the scroll anchor
// captured before and resolved after, and keeps the selection on the same
// item. The anchor measures only the rows above the first visible item, so
// items merged below the viewport never move it.
func (a App) applyMerge(act feed.Action) App {
	ih := a.cfg.ItemHeight
	selected, hadSelection := a.selectedKey()

	first, above, anchored := a.firstVisible()
	if anchored {
		a.anchor.Capture(above, a.state.ScrollOffset)
	}
	a.state = feed.Reduce(a.state, act)
	visible := a.state.Visible()
	if anchored {
		for i, it := range visible {
			if it.Key() == first {
				above = i * ih
				break
			}
		}
	}
	offset := a.anchor.Resolve(above, a.state.ScrollOffset)

	metrics.SetTimeline(len(a.state.Canonical), len(a.state.Filtered))

	if len(visible) == 0 {
		a.cursor = 0
		return a
	}

	if !a.state.InitialScrollDone {
		a.cursor = len(visible) - 1
		a.state = feed.Reduce(a.state, feed.Scrolled{Offset: window.MaxOffset(len(visible), a.contentHeight(), ih)})
		return a
	}

	if offset != a.state.ScrollOffset {
		a.cfg.Events.Emit(otel.Event{
			Kind:  otel.KindAnchor,
			Comp:  "ui",
			Count: offset - a.state.ScrollOffset,
		})
		a.state = feed.Reduce(a.state, feed.Scrolled{Offset: offset})
	}

	a.cursor = a.relocate(visible, selected, hadSelection)
	return a.followCursor()
}

// applyFilter runs a filter action and tells the coordinator.
func (a App) applyFilter(act feed.Action) App {
	selected, ok := a.selectedKey()
	a.state = feed.Reduce(a.state, act)
	if a.cfg.FilterChanged != nil {
		a.cfg.FilterChanged(a.state.Excluded.Clone())
	}
	metrics.SetTimeline(len(a.state.Canonical), len(a.state.Filtered))
	a.cursor = a.relocate(a.state.Visible(), selected, ok)
	return a.followCursor()
}

// firstVisible returns the key of the topmost item in the viewport and the
// height of everything above it.
func (a App) firstVisible() (model.Key, int, bool) {
	visible := a.state.Visible()
	if len(visible) == 0 {
		return model.Key{}, 0, false
	}
	ih := a.cfg.ItemHeight
	i := min(a.state.ScrollOffset/ih, len(visible)-1)
	return visible[i].Key(), i * ih, true
}

func (a App) relocate(visible []model.Item, k model.Key, ok bool) int {
	if len(visible) == 0 {
		return 0
	}
	if ok {
		for i, it := range visible {
			if it.Key() == k {
				return i
			}
		}
	}
	return min(a.cursor, len(visible)-1)
}

func (a App) selectedKey() (model.Key, bool) {
	visible := a.state.Visible()
	if a.cursor < 0 || a.cursor >= len(visible) {
		return model.Key{}, false
	}
	return visible[a.cursor].Key(), true
}

// followCursor scrolls just enough to keep the cursor row in view.
func (a App) followCursor() App {
	n := len(a.state.Visible())
	if n == 0 || !a.ready {
		return a
	}
	ih := a.cfg.ItemHeight
	h := a.contentHeight()

	off := a.state.ScrollOffset
	top := a.cursor * ih
	if top < off {
		off = top
	} else if top+ih > off+h {
		off = top + ih - h
	}
	off = max(0, min(off, window.MaxOffset(n, h, ih)))

	if off != a.state.ScrollOffset {
		a.state = feed.Reduce(a.state, feed.Scrolled{Offset: off})
	}
	return a
}

func (a App) reportFailed(failed []string) (App, tea.Cmd) {
	if len(failed) == 0 {
		return a, nil
	}
	names := make([]string, len(failed))
	for i, id := range failed {
		names[i] = a.title(id)
	}
	return a.setStatus(fmt.Sprintf("%d source(s) failed: %s", len(failed), strings.Join(names, ", ")))
}

func (a App) setStatus(s string) (App, tea.Cmd) {
	a.status = s
	a.statusSeq++
	seq := a.statusSeq
	return a, tea.Tick(statusTTL, func(time.Time) tea.Msg { return statusClear{seq: seq} })
}

func (a App) title(sourceID string) string {
	if t := a.titles[sourceID]; t != "" {
		return t
	}
	return sourceID
}

func (a App) presetIndex(id string) int {
	for i, p := range a.presets {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.cfg.Events.Emit(otel.Event{Kind: otel.KindKeyPress, Comp: "ui", Msg: msg.String()})

	if a.mode != modeStream {
		return a.handleInput(msg)
	}

	if a.showDebug {
		switch {
		case key.Matches(msg, keys.Debug), key.Matches(msg, keys.Escape):
			a.showDebug = false
		case msg.String() == "ctrl+c":
			return a, tea.Quit
		}
		return a, nil
	}

	visible := a.state.Visible()
	page := max(1, a.contentHeight()/a.cfg.ItemHeight)

	switch {
	case key.Matches(msg, keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, keys.Down):
		a.cursor = min(a.cursor+1, max(0, len(visible)-1))
		return a.followCursor(), nil

	case key.Matches(msg, keys.Up):
		if a.cursor == 0 {
			return a.loadOlder()
		}
		a.cursor--
		return a.followCursor(), nil

	case key.Matches(msg, keys.PageDown):
		a.cursor = min(a.cursor+page, max(0, len(visible)-1))
		return a.followCursor(), nil

	case key.Matches(msg, keys.PageUp):
		if a.cursor == 0 {
			return a.loadOlder()
		}
		a.cursor = max(0, a.cursor-page)
		return a.followCursor(), nil

	case key.Matches(msg, keys.Top):
		a.cursor = 0
		a = a.followCursor()
		return a.loadOlder()

	case key.Matches(msg, keys.Bottom):
		a.cursor = max(0, len(visible)-1)
		return a.followCursor(), nil

	case key.Matches(msg, keys.Open):
		k, ok := a.selectedKey()
		if !ok || a.cfg.Navigate == nil {
			return a, nil
		}
		a.cfg.Events.Emit(otel.Event{Kind: otel.KindNavigate, Comp: "ui", Source: k.SourceID, Msg: k.String()})
		return a, a.cfg.Navigate(k)

	case key.Matches(msg, keys.Reload):
		if a.cfg.LoadInitial == nil || a.state.Busy() {
			return a, nil
		}
		a.state = feed.Reduce(a.state, feed.Reset{})
		a.state = feed.Reduce(a.state, feed.LoadStarted{})
		a.cursor = 0
		return a, a.cfg.LoadInitial()

	case key.Matches(msg, keys.Search):
		a.mode = modeSearch
		a.input.Prompt = "/"
		a.input.Placeholder = "search"
		a.input.SetValue(a.state.Query)
		a.input.CursorEnd()
		focus := a.input.Focus()
		return a, tea.Batch(focus, textinput.Blink)

	case key.Matches(msg, keys.Escape):
		if a.state.Query != "" {
			return a.applyFilter(feed.SetQuery{}), nil
		}
		return a, nil

	case key.Matches(msg, keys.ToggleSrc):
		if a.cursor < len(visible) {
			return a.applyFilter(feed.ToggleSource{SourceID: visible[a.cursor].SourceID}), nil
		}
		return a, nil

	case key.Matches(msg, keys.SavePreset):
		if len(a.state.Excluded) == 0 {
			return a.setStatus("nothing hidden to save")
		}
		a.mode = modePresetName
		a.input.Prompt = "preset name: "
		a.input.Placeholder = ""
		a.input.SetValue("")
		focus := a.input.Focus()
		return a, tea.Batch(focus, textinput.Blink)

	case key.Matches(msg, keys.DelPreset):
		if a.state.ActiveFilterID == "" || a.cfg.DeletePreset == nil {
			return a, nil
		}
		return a, a.cfg.DeletePreset(a.state.ActiveFilterID)

	case key.Matches(msg, keys.ClearFilter):
		return a.applyFilter(feed.ClearFilter{}), nil

	case key.Matches(msg, keys.NextPreset):
		if len(a.presets) == 0 {
			return a, nil
		}
		next := (a.presetIndex(a.state.ActiveFilterID) + 1) % len(a.presets)
		return a.applyPreset(next), nil

	case key.Matches(msg, keys.Debug):
		a.showDebug = true
		return a, nil
	}

	if s := msg.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		i := int(s[0] - '1')
		if i < len(a.presets) {
			return a.applyPreset(i), nil
		}
	}

	return a, nil
}

func (a App) applyPreset(i int) App {
	p := a.presets[i]
	a.cfg.Events.Emit(otel.Event{Kind: otel.KindPresetApply, Comp: "ui", PresetID: p.ID, Count: len(p.Excluded)})
	return a.applyFilter(feed.ApplyPreset{Preset: p})
}

// loadOlder asks for the page before the oldest loaded item. On an empty
// timeline the coordinator falls back to an initial load.
func (a App) loadOlder() (App, tea.Cmd) {
	if a.cfg.LoadOlder == nil || !a.state.CanLoadOlder() {
		return a, nil
	}
	a.state = feed.Reduce(a.state, feed.OlderStarted{})
	return a, a.cfg.LoadOlder(a.state.Oldest())
}

// handleInput drives the search and preset-name prompts.
func (a App) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return a, tea.Quit

	case tea.KeyEsc:
		mode := a.mode
		a = a.closeInput()
		if mode == modeSearch {
			return a.applyFilter(feed.SetQuery{}), nil
		}
		return a, nil

	case tea.KeyEnter:
		mode := a.mode
		value := strings.TrimSpace(a.input.Value())
		a = a.closeInput()
		if mode == modePresetName && value != "" && a.cfg.SavePreset != nil {
			return a, a.cfg.SavePreset(value, a.state.Excluded.IDs())
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	if a.mode == modeSearch {
		a = a.applyFilter(feed.SetQuery{Query: a.input.Value()})
	}
	return a, cmd
}

func (a App) closeInput() App {
	a.mode = modeStream
	a.input.Blur()
	return a
}

// contentHeight is the number of lines available to the stream.
func (a App) contentHeight() int {
	h := a.height - 1
	if a.mode != modeStream {
		h--
	}
	return max(1, h)
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.showDebug {
		return debugOverlay(a.cfg.Ring, a.width, a.height-1, a.cfg.Now()) + "\n" + debugStatusBar(a.width)
	}

	h := a.contentHeight()
	visible := a.state.Visible()
	r := a.tracker.Range(len(visible), a.state.ScrollOffset, h)

	var b strings.Builder
	b.WriteString(renderStream(streamView{
		items:      visible,
		rng:        r,
		offset:     a.state.ScrollOffset,
		cursor:     a.cursor,
		width:      a.width,
		height:     h,
		itemHeight: a.cfg.ItemHeight,
		titles:     a.titles,
		now:        a.cfg.Now(),
		empty:      a.emptyText(),
	}))
	b.WriteString("\n")

	if a.mode != modeStream {
		b.WriteString(renderInputBar(a.input.View(), len(visible), len(a.state.Filtered), a.mode == modeSearch, a.width))
		b.WriteString("\n")
	}

	b.WriteString(renderStatusBar(statusView{
		cursor:    a.cursor,
		total:     len(visible),
		width:     a.width,
		loading:   a.state.Loading,
		older:     a.state.LoadingMore,
		spinner:   a.spinner.View(),
		filter:    a.filterLabel(),
		status:    a.status,
		exhausted: a.state.HistoryExhausted,
	}))
	return b.String()
}

func (a App) emptyText() string {
	switch {
	case a.state.Loading:
		return "Loading feed..."
	case a.state.Query != "":
		return fmt.Sprintf("No messages match %q", a.state.Query)
	case len(a.state.Canonical) > 0:
		return "Every source with messages is hidden. Press 0 to show all."
	case a.state.LastErr != nil:
		return "Could not load the feed: " + a.state.LastErr.Error()
	default:
		return "No messages yet."
	}
}

// filterLabel names the active preset, or counts ad-hoc exclusions.
func (a App) filterLabel() string {
	if id := a.state.ActiveFilterID; id != "" {
		if i := a.presetIndex(id); i >= 0 {
			return fmt.Sprintf("%d:%s", i+1, a.presets[i].Name)
		}
	}
	if n := len(a.state.Excluded); n > 0 {
		return fmt.Sprintf("%d hidden", n)
	}
	return ""
}

// State returns the feed state (for testing).
func (a App) State() feed.State {
	return a.state
}

// Cursor returns the current cursor position (for testing).
func (a App) Cursor() int {
	return a.cursor
}
