package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/tui/styles"
)

// Queue displays the playback queue
type Queue struct {
	offset int
}

// NewQueue creates a new Queue component
func NewQueue() *Queue {
	return &Queue{}
}

// ScrollDown scrolls the queue down
func (q *Queue) ScrollDown() {
	q.offset++
}

// ScrollUp scrolls the queue up
func (q *Queue) ScrollUp() {
	if q.offset > 0 {
		q.offset--
	}
}

// Render renders the queue panel. The current item is highlighted.
func (q *Queue) Render(queue *core.Queue, width, height int, focused bool) string {
	title := styles.PanelTitle("Queue", focused)

	var content string
	if queue.IsEmpty() {
		content = styles.Muted.Render("Queue is empty")
	} else {
		content = q.renderQueue(queue, width-4, height-4)
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

func (q *Queue) renderQueue(queue *core.Queue, width, maxLines int) string {
	items := queue.Items

	if q.offset >= len(items) {
		q.offset = 0
	}

	// Leave room for "more" indicator
	visibleCount := max(maxLines-1, 1)

	start := q.offset
	end := min(start+visibleCount, len(items))

	lines := make([]string, 0, end-start+1)

	// "XX. " (4) + "▶ " or "  " (2)
	const overhead = 6

	for i := start; i < end; i++ {
		num := fmt.Sprintf("%2d.", i+1)
		name := truncate(items[i], width-overhead)

		var line string
		if i == queue.CurrentIndex {
			line = styles.Playing.Render(fmt.Sprintf("%s ▶ %s", num, name))
		} else {
			line = fmt.Sprintf("%s   %s", styles.Dim.Render(num), name)
		}
		lines = append(lines, line)
	}

	if end < len(items) {
		more := styles.Dim.Render(fmt.Sprintf("    ... and %d more", len(items)-end))
		lines = append(lines, more)
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
