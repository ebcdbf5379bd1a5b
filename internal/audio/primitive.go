// Package audio drives the audio output: the primitive contract every
// backend implements and the manager performing atomic source switches.
package audio

import (
	"context"
	"fmt"
)

// EventKind identifies a primitive event.
type EventKind int

const (
	EventMetadataReady EventKind = iota
	EventCanPlay
	EventTimeUpdate
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadataReady:
		return "metadata_ready"
	case EventCanPlay:
		return "can_play"
	case EventTimeUpdate:
		return "time_update"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted by a primitive. Time is set for TimeUpdate and Err for
// Error.
type Event struct {
	Kind EventKind
	Time float64
	Err  error
}

// Primitive is the audio-rendering surface. Implementations deliver events
// from their own goroutine.
type Primitive interface {
	// Ready is closed once the output can accept commands.
	Ready() <-chan struct{}

	Address() string
	Clear()
	Load(address string)
	Play(ctx context.Context) error
	Pause()

	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
	Volume() float64
	SetVolume(v float64)

	OnEvent(fn func(Event)) (unsubscribe func())
}

// Preloader is implemented by primitives that can warm up neighbouring
// items.
type Preloader interface {
	Preload(prev, next string)
}

// AddressFunc maps an item id to the content address the primitive loads.
type AddressFunc func(itemID string) string

// IsReady reports whether p finished initializing.
func IsReady(p Primitive) bool {
	select {
	case <-p.Ready():
		return true
	default:
		return false
	}
}
