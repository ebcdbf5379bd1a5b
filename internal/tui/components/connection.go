package components

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/tessro/encore/internal/tui/styles"
)

// Notice is a line in the connection panel's activity list.
type Notice struct {
	Time   string
	Text   string
	Failed bool
}

// ConnectionInfo describes the push channel and identity.
type ConnectionInfo struct {
	Profile string
	Device  string
	Offline bool
	Notices []Notice
}

// Connection displays the push channel state and recent notices
type Connection struct{}

// NewConnection creates a new Connection component
func NewConnection() *Connection {
	return &Connection{}
}

// Render renders the connection panel
func (c *Connection) Render(info ConnectionInfo, width, height int, focused bool) string {
	title := styles.PanelTitle("Connection", focused)

	status := styles.ConnectionIcon(info.Offline) + " "
	if info.Offline {
		status += styles.Failed.Render("offline")
	} else {
		status += styles.Playing.Render("online")
	}

	lines := []string{
		title,
		"",
		status,
		styles.Label.Render("profile ") + valueOr(info.Profile, "-"),
		styles.Label.Render("device  ") + valueOr(info.Device, "-"),
		"",
	}

	room := max(height-len(lines)-2, 0)
	for i, n := range info.Notices {
		if i >= room {
			break
		}
		text := truncate(n.Text, width-4-len(n.Time)-1)
		if n.Failed {
			text = styles.Failed.Render(text)
		}
		lines = append(lines, styles.Dim.Render(n.Time)+" "+text)
	}

	panel := styles.Panel(focused).
		Width(width).
		Height(height)

	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
