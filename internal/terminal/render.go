// Package terminal drives a search control from a TTY and implements the
// geosearch command.
package terminal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/geocoding"
)

var (
	// Accent marks the highlighted result and the prompt.
	Accent = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))

	// Muted is used for coordinates and hints.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))

	Bold = lipgloss.NewStyle().Bold(true)

	AccentBold = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
)

const (
	cursorMark = "›"
	keyHint    = "↑/↓ move · enter select · 1-9 pick · q quit"
)

// RenderItems lists items one per line, numbered from 1. The item at
// highlight is marked; -1 marks none.
func RenderItems(items []control.Item, highlight int) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		number := fmt.Sprintf("%2d.", item.Index+1)
		coords := Muted.Render(geocoding.FormatLatLng(item.Result.Center))

		if item.Index == highlight {
			lines = append(lines, fmt.Sprintf("%s %s %s %s",
				Accent.Render(cursorMark), AccentBold.Render(number), AccentBold.Render(item.Result.Name), coords))
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", number, item.Result.Name, coords))
	}
	return lines
}

// RenderResults renders a plain result list with no highlight.
func RenderResults(results []geocoding.Result) string {
	items := make([]control.Item, len(results))
	for i, r := range results {
		items[i] = control.Item{Index: i, Result: r}
	}
	return strings.Join(RenderItems(items, -1), "\n")
}

// RenderSelection describes a chosen result.
func RenderSelection(r geocoding.Result) string {
	var b strings.Builder
	b.WriteString(Bold.Render(r.Name))
	b.WriteString("\n")
	b.WriteString(Muted.Render(geocoding.FormatLatLng(r.Center)))
	if r.Bounds != nil {
		b.WriteString(Muted.Render(fmt.Sprintf("  bounds %s → %s",
			geocoding.FormatLatLng(r.Bounds.SouthWest), geocoding.FormatLatLng(r.Bounds.NorthEast))))
	}
	return b.String()
}
