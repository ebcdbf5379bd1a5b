// Package events is the typed publish/subscribe layer. Every event kind is
// a distinct type implementing the sealed Event interface, so handlers can
// switch exhaustively over the closed set below.
package events

import (
	"github.com/tessro/encore/internal/core"
)

// Source tags who caused a state change.
type Source string

const (
	SourceUser     Source = "user"
	SourceServer   Source = "server"
	SourceResync   Source = "resync"
	SourceRestore  Source = "restore"
	SourceAudio    Source = "audio"
	SourceRollback Source = "rollback"
)

// Event is implemented by every event kind in this package.
type Event interface {
	event()
}

// FieldChange describes one key whose value actually changed.
type FieldChange struct {
	Field  core.Field
	Old    any
	New    any
	Source Source
}

// StateChanged is the aggregate event fired once per effective mutation.
type StateChanged struct {
	Changes []FieldChange
	Source  Source
	State   core.PlaybackState
}

// Changed reports whether field f is part of the mutation.
func (e StateChanged) Changed(f core.Field) bool {
	for _, c := range e.Changes {
		if c.Field == f {
			return true
		}
	}
	return false
}

// Fields returns the changed keys in order.
func (e StateChanged) Fields() []core.Field {
	out := make([]core.Field, len(e.Changes))
	for i, c := range e.Changes {
		out[i] = c.Field
	}
	return out
}

// FieldChanged is fired once per changed key, after StateChanged.
type FieldChanged struct {
	FieldChange
}

// OfflineChanged is fired when the connectivity flag flips.
type OfflineChanged struct {
	Offline bool
}

// Connected is fired when the push channel opens.
type Connected struct {
	Profile string
}

// Disconnected is fired when the push channel closes or fails to open.
type Disconnected struct {
	Err error
}

// CommandFailed is the user-visible failure of an optimistic command,
// fired after the optimistic change was rolled back.
type CommandFailed struct {
	Action core.Action
	Reason string
}

// CommandAcknowledged is fired when the server confirms a command this
// client sent.
type CommandAcknowledged struct {
	Action core.Action
	Seq    uint64
}

// AudioFailed is fired when the audio output reports an error.
type AudioFailed struct {
	ItemID string
	Err    error
}

func (StateChanged) event()        {}
func (FieldChanged) event()        {}
func (OfflineChanged) event()      {}
func (Connected) event()           {}
func (Disconnected) event()        {}
func (CommandFailed) event()       {}
func (CommandAcknowledged) event() {}
func (AudioFailed) event()         {}
