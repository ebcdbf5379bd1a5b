package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tessro/encore/internal/tui/styles"
)

// HistoryEntry is an item that stopped being current.
type HistoryEntry struct {
	ItemID   string
	Title    string
	Creator  string
	PlayedAt time.Time
	Skipped  bool
}

// History displays recently played items
type History struct{}

// NewHistory creates a new History component
func NewHistory() *History {
	return &History{}
}

// Render renders the history panel. now anchors the relative times.
func (h *History) Render(entries []HistoryEntry, now time.Time, width, height int, focused bool) string {
	title := styles.PanelTitle("History", focused)

	var content string
	if len(entries) == 0 {
		content = styles.Muted.Render("No history yet")
	} else {
		content = h.renderHistory(entries, now, width-4, height-4)
	}

	panel := styles.Panel(focused).
		Width(width).
		Height(height)

	return panel.Render(lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		content,
	))
}

func (h *History) renderHistory(entries []HistoryEntry, now time.Time, width, maxLines int) string {
	lines := make([]string, 0, maxLines)

	for i, entry := range entries {
		if i >= maxLines {
			break
		}

		timeAgo := formatTimeAgo(entry.PlayedAt, now)

		icon := "✓"
		if entry.Skipped {
			icon = "⏭"
		}

		name := entry.Title
		if name == "" {
			name = entry.ItemID
		}
		if entry.Creator != "" {
			name += " - " + entry.Creator
		}
		// icon and space (2) plus at least one space before the time
		name = truncate(name, width-3-len(timeAgo))

		padding := max(width-2-len(name)-len(timeAgo), 1)

		line := fmt.Sprintf("%s %s%s%s",
			styles.Dim.Render(icon),
			name,
			lipgloss.NewStyle().Width(padding).Render(""),
			styles.Dim.Render(timeAgo))

		lines = append(lines, line)
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)

	if d < time.Minute {
		return "now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return t.Format("Jan 2")
}
