package tail

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
)

// EventType represents the type of playback event.
type EventType int

const (
	EventItemChange EventType = iota
	EventItemComplete
	EventItemSkip
	EventPause
	EventResume
	EventSeek
	EventVolumeChange
	EventModeChange
	EventConnected
	EventDisconnected
	EventCommandFailed
	EventAudioFailed
)

// Event represents a playback state change.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Previous  *core.PlaybackState
	Current   *core.PlaybackState
	Source    events.Source
	Detail    string
}

// Source delivers engine events.
type Source interface {
	Subscribe(h events.Handler) (unsubscribe func())
	Snapshot() core.PlaybackState
}

// Watcher turns engine events into tail events.
type Watcher struct {
	src    Source
	clock  clock.Clock
	events chan Event
	prev   core.PlaybackState
}

// NewWatcher creates a watcher over src. A nil clock uses the wall clock.
func NewWatcher(src Source, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		src:    src,
		clock:  clk,
		events: make(chan Event, 16),
	}
}

// Events returns the channel of playback events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start forwards events until ctx is cancelled. The engine delivers
// events one at a time, so the watcher needs no locking of its own.
func (w *Watcher) Start(ctx context.Context) error {
	w.prev = w.src.Snapshot()
	inbox := make(chan events.Event, 64)

	unsubscribe := w.src.Subscribe(func(e events.Event) {
		select {
		case inbox <- e:
		default:
			// Drop event if the reader is behind
		}
	})
	defer unsubscribe()
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-inbox:
			for _, out := range w.translate(e) {
				select {
				case w.events <- out:
				default:
					// Drop event if channel is full
				}
			}
		}
	}
}

// translate maps one engine event to zero or more tail events.
func (w *Watcher) translate(e events.Event) []Event {
	now := w.clock.Now()

	switch e := e.(type) {
	case events.StateChanged:
		prev := w.prev
		curr := e.State.Clone()
		w.prev = curr
		return diffStates(&prev, &curr, e, now)

	case events.Connected:
		return []Event{{Type: EventConnected, Timestamp: now, Detail: e.Profile}}

	case events.Disconnected:
		detail := ""
		if e.Err != nil {
			detail = e.Err.Error()
		}
		return []Event{{Type: EventDisconnected, Timestamp: now, Detail: detail}}

	case events.CommandFailed:
		return []Event{{Type: EventCommandFailed, Timestamp: now, Detail: string(e.Action) + ": " + e.Reason}}

	case events.AudioFailed:
		detail := e.ItemID
		if e.Err != nil {
			detail += ": " + e.Err.Error()
		}
		return []Event{{Type: EventAudioFailed, Timestamp: now, Detail: detail}}
	}
	return nil
}

// diffStates derives tail events from one state change.
func diffStates(prev, curr *core.PlaybackState, sc events.StateChanged, now time.Time) []Event {
	var out []Event
	add := func(t EventType) {
		out = append(out, Event{
			Type:      t,
			Timestamp: now,
			Previous:  prev,
			Current:   curr,
			Source:    sc.Source,
		})
	}

	// Item change detection
	if sc.Changed(core.FieldItemID) {
		switch {
		case prev.HasItem() && wasCompleted(prev):
			add(EventItemComplete)
		case prev.HasItem():
			add(EventItemSkip)
		}
		if curr.HasItem() {
			add(EventItemChange)
		}
	}

	// Pause/Resume detection
	if sc.Changed(core.FieldPlaying) {
		if curr.Playing {
			add(EventResume)
		} else {
			add(EventPause)
		}
	}

	// Position updates from the output are progress, not seeks
	if sc.Changed(core.FieldPosition) && sc.Source == events.SourceUser {
		add(EventSeek)
	}

	if sc.Changed(core.FieldVolume) {
		add(EventVolumeChange)
	}

	if sc.Changed(core.FieldShuffle) || sc.Changed(core.FieldRepeat) {
		add(EventModeChange)
	}

	return out
}

// wasCompleted returns true if the item likely completed naturally.
func wasCompleted(state *core.PlaybackState) bool {
	if state.Duration <= 0 {
		return false
	}
	// Consider completed if progress is >= 95% of duration
	return state.Position >= state.Duration*0.95
}
