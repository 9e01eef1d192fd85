package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/window"
)

// streamView is everything renderStream needs. Items outside rng are never
// rendered.
type streamView struct {
	items      []model.Item
	rng        window.Range
	offset     int
	cursor     int
	width      int
	height     int
	itemHeight int
	titles     map[string]string
	now        time.Time
	empty      string
}

// renderStream renders the materialized range and crops it to the viewport.
// Always returns exactly height lines.
func renderStream(v streamView) string {
	if len(v.items) == 0 {
		return strings.Join(fitLines(strings.Split(HelpStyle.Render(v.empty), "\n"), v.height), "\n")
	}

	lines := make([]string, 0, v.rng.Len()*v.itemHeight)
	for i := v.rng.Start; i < v.rng.End; i++ {
		it := v.items[i]
		title := v.titles[it.SourceID]
		if title == "" {
			title = it.SourceID
		}
		lines = append(lines, renderItem(it, title, i == v.cursor, v.width, v.itemHeight, v.now)...)
	}

	skip := max(0, min(v.offset-v.rng.TopOffset, len(lines)))
	return strings.Join(fitLines(lines[skip:], v.height), "\n")
}

func fitLines(lines []string, height int) []string {
	if len(lines) > height {
		return lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return lines
}

// renderItem renders one item as exactly itemHeight lines: a header, up to
// itemHeight-2 lines of text and a blank separator. Short heights drop the
// separator first, then fold the text into the header.
func renderItem(it model.Item, title string, selected bool, width, itemHeight int, now time.Time) []string {
	meta := itemMeta(it, now)

	if itemHeight <= 1 {
		header := title + "  " + firstLine(it.Text) + "  " + meta
		return []string{styleHeader(header, selected, width)}
	}

	lines := make([]string, 0, itemHeight)
	if selected {
		lines = append(lines, styleHeader(title+"  "+meta, true, width))
	} else {
		// truncate before styling so escape codes are never cut
		title = truncateWidth(title, width/2)
		meta = truncateWidth(meta, width-runewidth.StringWidth(title)-2)
		badge := SourceBadge.Foreground(sourcePaletteColor(it.SourceID)).Render(title)
		lines = append(lines, badge+"  "+MetaItem.Render(meta))
	}

	bodyLines := itemHeight - 1
	if itemHeight >= 3 {
		bodyLines--
	}
	for _, l := range bodyText(it, bodyLines) {
		lines = append(lines, BodyText.Render("  "+truncateWidth(l, width-2)))
	}
	for len(lines) < itemHeight {
		lines = append(lines, "")
	}
	return lines
}

func styleHeader(s string, selected bool, width int) string {
	s = truncateWidth(s, width)
	if !selected {
		return NormalItem.Render(s)
	}
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return SelectedItem.Render(s)
}

// itemMeta is the age plus album and media markers.
func itemMeta(it model.Item, now time.Time) string {
	parts := []string{humanize.RelTime(it.Time(), now, "ago", "from now")}
	if it.AlbumSize > 1 {
		parts = append(parts, fmt.Sprintf("album ×%d", it.AlbumSize))
	} else if it.Media != nil {
		parts = append(parts, string(it.Media.Kind))
	}
	if n := it.TotalReactions(); n > 0 {
		parts = append(parts, fmt.Sprintf("♥ %d", n))
	}
	return strings.Join(parts, " · ")
}

// bodyText returns up to n non-empty lines of the item text. Media-only
// items get a placeholder.
func bodyText(it model.Item, n int) []string {
	if n <= 0 {
		return nil
	}
	var out []string
	for _, l := range strings.Split(it.Text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if len(out) == n {
			out[n-1] = strings.TrimSuffix(out[n-1], "…") + "…"
			break
		}
		out = append(out, l)
	}
	if len(out) == 0 && it.Media != nil {
		out = append(out, "["+string(it.Media.Kind)+"]")
	}
	return out
}

func firstLine(s string) string {
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

// truncateWidth cuts s to w terminal cells, marking the cut with an ellipsis.
func truncateWidth(s string, w int) string {
	if w <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= w {
		return s
	}
	return runewidth.Truncate(s, w, "…")
}

// truncateRunes cuts s to n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func sourcePaletteColor(name string) lipgloss.Color {
	palette := []lipgloss.Color{
		lipgloss.Color("62"),
		lipgloss.Color("69"),
		lipgloss.Color("39"),
		lipgloss.Color("141"),
		lipgloss.Color("208"),
		lipgloss.Color("75"),
		lipgloss.Color("99"),
		lipgloss.Color("212"),
	}
	sum := 0
	for i := 0; i < len(name); i++ {
		sum += int(name[i])
	}
	return palette[sum%len(palette)]
}

type statusView struct {
	cursor    int
	total     int
	width     int
	loading   bool
	older     bool
	spinner   string
	filter    string
	status    string
	exhausted bool
}

// renderStatusBar renders the bottom status bar with key hints and position.
func renderStatusBar(v statusView) string {
	var left string
	switch {
	case v.loading:
		left = v.spinner + " Loading... "
	case v.older:
		left = v.spinner + " Loading older... "
	case v.total == 0:
		left = " 0/0 "
	default:
		left = fmt.Sprintf(" %d/%d ", v.cursor+1, v.total)
	}
	if v.filter != "" {
		left += FilterBadge.Render(v.filter) + " "
	}
	switch {
	case v.status != "":
		left += WarnText.Render(v.status)
	case v.exhausted && v.cursor == 0 && v.total > 0:
		left += HistoryMarker.Render("beginning of history")
	}

	hints := make([]string, 0, len(statusHints()))
	for _, b := range statusHints() {
		h := b.Help()
		hints = append(hints, StatusBarKey.Render(h.Key)+StatusBarText.Render(":"+h.Desc))
	}
	keyHints := strings.Join(hints, " ")

	leftWidth := lipgloss.Width(left)
	rightWidth := lipgloss.Width(keyHints)
	padding := v.width - leftWidth - rightWidth - 2
	if padding < 1 {
		keyHints = ""
		padding = 0
	}

	bar := left + strings.Repeat(" ", padding) + keyHints
	return StatusBar.Width(v.width).Render(bar)
}

// renderInputBar renders the search or preset-name prompt.
func renderInputBar(input string, matches, total int, search bool, width int) string {
	content := input
	if search {
		content += InputBarCount.Render(fmt.Sprintf("  %d/%d", matches, total))
	}
	return InputBar.Width(width).Render(content)
}
