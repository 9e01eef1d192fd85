package ui

import "github.com/charmbracelet/lipgloss"

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorWarn      = lipgloss.Color("214") // Orange
)

// SelectedItem style for the header line of the highlighted item.
var SelectedItem = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary)

// NormalItem style for item headers.
var NormalItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

// BodyText style for message text.
var BodyText = lipgloss.NewStyle().
	Foreground(lipgloss.Color("252"))

// MetaItem style for ages, media markers and album counts.
var MetaItem = lipgloss.NewStyle().
	Foreground(colorMuted)

// SourceBadge style for source titles.
var SourceBadge = lipgloss.NewStyle().
	Foreground(colorPrimary).
	Bold(true)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// FilterBadge marks the active preset or an ad-hoc exclusion set.
var FilterBadge = lipgloss.NewStyle().
	Foreground(lipgloss.Color("0")).
	Background(colorHighlight).
	Padding(0, 1)

// WarnText for partial-failure notices.
var WarnText = lipgloss.NewStyle().
	Foreground(colorWarn)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("196")).
	Bold(true).
	Padding(0, 1)

// HelpStyle for empty-state text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(colorMuted).
	Padding(1, 2)

// InputBar style for the search and preset-name prompts.
var InputBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("240")).
	Padding(0, 1)

// InputBarCount style for the match count next to the search prompt.
var InputBarCount = lipgloss.NewStyle().
	Foreground(colorSecondary)

// HistoryMarker style for the "beginning of history" line.
var HistoryMarker = lipgloss.NewStyle().
	Foreground(colorMuted).
	Italic(true)

// DebugPanel style for the debug overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)

// DebugHeaderStyle for section headers inside the debug overlay.
var DebugHeaderStyle = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)
