package tail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
)

func TestFormatter(t *testing.T) {
	cur := &core.PlaybackState{
		ItemID:   "a1",
		Title:    "Blue in Green",
		Creator:  "Miles Davis",
		Position: 125,
		Volume:   0.42,
		Shuffle:  core.ShuffleOn,
		Repeat:   core.RepeatAll,
	}
	prev := &core.PlaybackState{ItemID: "z9"}
	ts := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		opts []FormatterOption
		ev   Event
		want string
	}{
		{"item change", nil, Event{Type: EventItemChange, Current: cur}, "🎵 Now playing: Miles Davis - Blue in Green"},
		{"skip falls back to id", []FormatterOption{WithEmoji(false)}, Event{Type: EventItemSkip, Previous: prev}, "Skipped: z9"},
		{"volume", []FormatterOption{WithEmoji(false)}, Event{Type: EventVolumeChange, Current: cur}, "Volume: 42%"},
		{"seek", []FormatterOption{WithEmoji(false)}, Event{Type: EventSeek, Current: cur}, "Seek: 2:05"},
		{"modes", []FormatterOption{WithEmoji(false)}, Event{Type: EventModeChange, Current: cur}, "Shuffle: SHUFFLE, repeat: ALL"},
		{"timestamp", []FormatterOption{WithEmoji(false), WithTimestamp(true)}, Event{Type: EventPause, Timestamp: ts}, "13:04:05 Paused"},
		{"disconnected", []FormatterOption{WithEmoji(false)}, Event{Type: EventDisconnected, Detail: "eof"}, "Disconnected: eof"},
		{"template", []FormatterOption{WithTemplate("{{.Type}} {{.Title}} {{.Volume}}")}, Event{Type: EventResume, Current: cur}, "resume Blue in Green 42"},
		{"bad template ignored", []FormatterOption{WithEmoji(false), WithTemplate("{{.Nope")}, Event{Type: EventResume}, "Resumed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewFormatter(tt.opts...).Format(tt.ev)
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiffStates(t *testing.T) {
	tests := []struct {
		name   string
		prev   core.PlaybackState
		curr   core.PlaybackState
		fields []core.Field
		source events.Source
		want   []EventType
	}{
		{
			name:   "first item",
			curr:   core.PlaybackState{ItemID: "a"},
			fields: []core.Field{core.FieldItemID},
			want:   []EventType{EventItemChange},
		},
		{
			name:   "completed item",
			prev:   core.PlaybackState{ItemID: "a", Position: 99, Duration: 100},
			curr:   core.PlaybackState{ItemID: "b"},
			fields: []core.Field{core.FieldItemID},
			want:   []EventType{EventItemComplete, EventItemChange},
		},
		{
			name:   "skipped item",
			prev:   core.PlaybackState{ItemID: "a", Position: 10, Duration: 100},
			curr:   core.PlaybackState{ItemID: "b"},
			fields: []core.Field{core.FieldItemID},
			want:   []EventType{EventItemSkip, EventItemChange},
		},
		{
			name:   "pause and volume",
			prev:   core.PlaybackState{Playing: true},
			curr:   core.PlaybackState{Volume: 0.5},
			fields: []core.Field{core.FieldPlaying, core.FieldVolume},
			want:   []EventType{EventPause, EventVolumeChange},
		},
		{
			name:   "output progress is not a seek",
			curr:   core.PlaybackState{Position: 3},
			fields: []core.Field{core.FieldPosition},
			source: events.SourceAudio,
			want:   nil,
		},
		{
			name:   "user seek",
			curr:   core.PlaybackState{Position: 3},
			fields: []core.Field{core.FieldPosition},
			source: events.SourceUser,
			want:   []EventType{EventSeek},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := events.StateChanged{Source: tt.source, State: tt.curr}
			for _, f := range tt.fields {
				sc.Changes = append(sc.Changes, events.FieldChange{Field: f})
			}
			got := diffStates(&tt.prev, &tt.curr, sc, time.Time{})
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("event %d = %v, want %v", i, got[i].Type, tt.want[i])
				}
			}
		})
	}
}

// fakeSource is a minimal engine stand-in.
type fakeSource struct {
	mu   sync.Mutex
	subs []events.Handler
}

func (s *fakeSource) Subscribe(h events.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, h)
	return func() {}
}

func (s *fakeSource) Snapshot() core.PlaybackState { return core.PlaybackState{} }

func (s *fakeSource) publish(e events.Event) {
	s.mu.Lock()
	subs := append([]events.Handler(nil), s.subs...)
	s.mu.Unlock()
	for _, h := range subs {
		h(e)
	}
}

func (s *fakeSource) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

func TestWatcher(t *testing.T) {
	src := &fakeSource{}
	w := NewWatcher(src, clock.NewMock())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	for !src.subscribed() {
		time.Sleep(time.Millisecond)
	}

	src.publish(events.Connected{Profile: "p1"})
	src.publish(events.StateChanged{
		Changes: []events.FieldChange{{Field: core.FieldItemID}},
		Source:  events.SourceServer,
		State:   core.PlaybackState{ItemID: "a", Title: "Song"},
	})
	src.publish(events.CommandFailed{Action: core.ActionPause, Reason: "busy"})
	src.publish(events.Disconnected{Err: errors.New("eof")})

	var got []Event
	for len(got) < 4 {
		select {
		case e := <-w.Events():
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 4", len(got))
		}
	}

	want := []EventType{EventConnected, EventItemChange, EventCommandFailed, EventDisconnected}
	for i, e := range got {
		if e.Type != want[i] {
			t.Errorf("event %d = %v, want %v", i, e.Type, want[i])
		}
	}
	if !strings.Contains(got[2].Detail, "pause: busy") {
		t.Errorf("command failure detail = %q", got[2].Detail)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() = %v, want context.Canceled", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel not closed")
	}
}
