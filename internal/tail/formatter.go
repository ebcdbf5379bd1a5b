// Package tail renders the engine's event stream as a line-oriented log
// for the run command.
package tail

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"
)

// Formatter formats events for output.
type Formatter struct {
	showEmoji     bool
	showTimestamp bool
	template      *template.Template
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithEmoji enables emoji output.
func WithEmoji(enabled bool) FormatterOption {
	return func(f *Formatter) {
		f.showEmoji = enabled
	}
}

// WithTimestamp enables timestamp output.
func WithTimestamp(enabled bool) FormatterOption {
	return func(f *Formatter) {
		f.showTimestamp = enabled
	}
}

// WithTemplate sets a custom format template.
func WithTemplate(tmpl string) FormatterOption {
	return func(f *Formatter) {
		if tmpl != "" {
			t, err := template.New("format").Parse(tmpl)
			if err == nil {
				f.template = t
			}
		}
	}
}

// NewFormatter creates a new formatter with the given options.
func NewFormatter(opts ...FormatterOption) *Formatter {
	f := &Formatter{
		showEmoji:     true,
		showTimestamp: false,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format formats an event as a string.
func (f *Formatter) Format(e Event) string {
	if f.template != nil {
		return f.formatTemplate(e)
	}
	return f.formatLine(e)
}

// formatLine formats an event as a simple line.
func (f *Formatter) formatLine(e Event) string {
	var parts []string

	// Timestamp
	if f.showTimestamp {
		parts = append(parts, e.Timestamp.Format("15:04:05"))
	}

	// Emoji
	if f.showEmoji {
		parts = append(parts, eventEmoji(e.Type))
	}

	// Event description
	parts = append(parts, f.eventDescription(e))

	return strings.Join(parts, " ")
}

// formatTemplate formats an event using a custom template.
func (f *Formatter) formatTemplate(e Event) string {
	data := templateData{
		Type:      eventTypeName(e.Type),
		Emoji:     eventEmoji(e.Type),
		Timestamp: e.Timestamp,
		Time:      e.Timestamp.Format("15:04:05"),
		Source:    string(e.Source),
		Detail:    e.Detail,
	}

	if e.Current != nil {
		data.Item = e.Current.ItemID
		data.Title = e.Current.Title
		data.Creator = e.Current.Creator
		data.Volume = volumePercent(e.Current.Volume)
		data.Position = FormatSeconds(e.Current.Position)
	}

	var buf bytes.Buffer
	if err := f.template.Execute(&buf, data); err != nil {
		return f.formatLine(e)
	}
	return buf.String()
}

type templateData struct {
	Type      string
	Emoji     string
	Timestamp time.Time
	Time      string
	Source    string
	Detail    string
	Item      string
	Title     string
	Creator   string
	Position  string
	Volume    int
}

// eventDescription returns a human-readable description of the event.
func (f *Formatter) eventDescription(e Event) string {
	switch e.Type {
	case EventItemChange:
		if e.Current != nil {
			return "Now playing: " + displayName(e.Current.Creator, e.Current.Title, e.Current.ItemID)
		}
		return "Item changed"

	case EventItemComplete:
		if e.Previous != nil {
			return "Finished: " + displayName(e.Previous.Creator, e.Previous.Title, e.Previous.ItemID)
		}
		return "Item completed"

	case EventItemSkip:
		if e.Previous != nil {
			return "Skipped: " + displayName(e.Previous.Creator, e.Previous.Title, e.Previous.ItemID)
		}
		return "Item skipped"

	case EventPause:
		return "Paused"

	case EventResume:
		return "Resumed"

	case EventSeek:
		if e.Current != nil {
			return "Seek: " + FormatSeconds(e.Current.Position)
		}
		return "Seeked"

	case EventVolumeChange:
		if e.Current != nil {
			return fmt.Sprintf("Volume: %d%%", volumePercent(e.Current.Volume))
		}
		return "Volume changed"

	case EventModeChange:
		if e.Current != nil {
			return fmt.Sprintf("Shuffle: %s, repeat: %s", e.Current.Shuffle, e.Current.Repeat)
		}
		return "Mode changed"

	case EventConnected:
		return "Connected (profile " + e.Detail + ")"

	case EventDisconnected:
		if e.Detail != "" {
			return "Disconnected: " + e.Detail
		}
		return "Disconnected"

	case EventCommandFailed:
		return "Command failed: " + e.Detail

	case EventAudioFailed:
		return "Audio failed: " + e.Detail

	default:
		return "Unknown event"
	}
}

func displayName(creator, title, id string) string {
	switch {
	case creator != "" && title != "":
		return creator + " - " + title
	case title != "":
		return title
	default:
		return id
	}
}

func volumePercent(v float64) int {
	return int(math.Round(v * 100))
}

// FormatSeconds renders a position as m:ss.
func FormatSeconds(s float64) string {
	total := int(math.Max(s, 0))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// eventEmoji returns an emoji for the event type.
func eventEmoji(t EventType) string {
	switch t {
	case EventItemChange:
		return "🎵"
	case EventItemComplete:
		return "✅"
	case EventItemSkip:
		return "⏭️"
	case EventPause:
		return "⏸️"
	case EventResume:
		return "▶️"
	case EventSeek:
		return "⏩"
	case EventVolumeChange:
		return "🔊"
	case EventModeChange:
		return "🔀"
	case EventConnected:
		return "🟢"
	case EventDisconnected:
		return "🔴"
	case EventCommandFailed, EventAudioFailed:
		return "⚠️"
	default:
		return "❓"
	}
}

// String returns the snake_case name of t.
func (t EventType) String() string {
	return eventTypeName(t)
}

// eventTypeName returns the name of the event type.
func eventTypeName(t EventType) string {
	switch t {
	case EventItemChange:
		return "item_change"
	case EventItemComplete:
		return "item_complete"
	case EventItemSkip:
		return "item_skip"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventSeek:
		return "seek"
	case EventVolumeChange:
		return "volume_change"
	case EventModeChange:
		return "mode_change"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventCommandFailed:
		return "command_failed"
	case EventAudioFailed:
		return "audio_failed"
	default:
		return "unknown"
	}
}
