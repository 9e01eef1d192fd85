package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the stream key bindings.
type keyMap struct {
	Quit        key.Binding
	Up          key.Binding
	Down        key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Top         key.Binding
	Bottom      key.Binding
	Open        key.Binding
	Reload      key.Binding
	Search      key.Binding
	Escape      key.Binding
	ToggleSrc   key.Binding
	SavePreset  key.Binding
	DelPreset   key.Binding
	ClearFilter key.Binding
	NextPreset  key.Binding
	Debug       key.Binding
}

var keys = keyMap{
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Up:          key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("j/k", "nav")),
	Down:        key.NewBinding(key.WithKeys("j", "down")),
	PageUp:      key.NewBinding(key.WithKeys("pgup", "ctrl+u")),
	PageDown:    key.NewBinding(key.WithKeys("pgdown", "ctrl+d")),
	Top:         key.NewBinding(key.WithKeys("g", "home")),
	Bottom:      key.NewBinding(key.WithKeys("G", "end")),
	Open:        key.NewBinding(key.WithKeys("enter", "o"), key.WithHelp("enter", "open")),
	Reload:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Search:      key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Escape:      key.NewBinding(key.WithKeys("esc")),
	ToggleSrc:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "hide source")),
	SavePreset:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save preset")),
	DelPreset:   key.NewBinding(key.WithKeys("D")),
	ClearFilter: key.NewBinding(key.WithKeys("0"), key.WithHelp("0-9", "presets")),
	NextPreset:  key.NewBinding(key.WithKeys("p")),
	Debug:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "debug")),
}

// statusHints are the bindings advertised in the status bar.
func statusHints() []key.Binding {
	return []key.Binding{keys.Up, keys.Open, keys.Search, keys.ToggleSrc, keys.SavePreset, keys.ClearFilter, keys.Reload, keys.Debug, keys.Quit}
}
