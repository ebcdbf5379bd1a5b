package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/lipgloss"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/tail"
	"github.com/tessro/encore/internal/tui/styles"
)

// NowPlaying displays the current item
type NowPlaying struct{}

// NewNowPlaying creates a new NowPlaying component
func NewNowPlaying() *NowPlaying {
	return &NowPlaying{}
}

// Render renders the now playing panel
func (n *NowPlaying) Render(state core.PlaybackState, width, height int, focused bool) string {
	title := styles.PanelTitle("Now Playing", focused)

	var content string
	if !state.HasItem() {
		content = styles.Muted.Render("Nothing playing")
	} else {
		content = n.renderItem(state, width-4)
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

func (n *NowPlaying) renderItem(state core.PlaybackState, width int) string {
	icon := styles.StatusIcon(state.Playing)
	name := state.Title
	if name == "" {
		name = state.ItemID
	}
	title := styles.Title.Width(max(width-4, 1)).Render(name)
	creator := styles.Subtitle.Render(state.Creator)

	// Account for times on either side
	progressWidth := max(width-14, 10)
	bar := styles.ProgressBar(state.ProgressPercent(), progressWidth)
	progress := fmt.Sprintf("%s %s %s",
		tail.FormatSeconds(state.Position), bar, tail.FormatSeconds(state.Duration))

	return lipgloss.JoinVertical(lipgloss.Left,
		icon+" "+title,
		"  "+creator,
		"",
		progress,
		"",
		n.renderControls(state),
	)
}

func (n *NowPlaying) renderControls(state core.PlaybackState) string {
	controls := styles.Dim.Render("⏮ ")
	if state.Playing {
		controls += styles.Playing.Render("⏸")
	} else {
		controls += styles.Paused.Render("▶")
	}
	controls += styles.Dim.Render(" ⏭")

	modes := fmt.Sprintf("  🔊 %d%%  shuffle %s  repeat %s",
		int(math.Round(state.Volume*100)), modeLabel(string(state.Shuffle)), modeLabel(string(state.Repeat)))
	if state.HasLyrics {
		modes += "  ♪ lyrics"
	}
	return controls + styles.Muted.Render(modes)
}

func modeLabel(m string) string {
	if m == "" {
		return "OFF"
	}
	return m
}
