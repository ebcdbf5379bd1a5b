package playback

import (
	"github.com/tessro/encore/internal/audio"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/persist"
)

func (e *Engine) onStoreEvent(ev events.Event) {
	switch ev := ev.(type) {
	case events.StateChanged:
		e.mirror(ev)
		if ev.Source != events.SourceAudio && ev.Source != events.SourceRestore {
			e.scheduleSave()
		}
	case events.OfflineChanged:
		if ev.Offline {
			e.saveNow(persist.SaveOptions{IncludeLivePosition: true})
		}
	}
}

// mirror applies a store change to the audio output.
func (e *Engine) mirror(ev events.StateChanged) {
	if e.audio == nil {
		return
	}
	st := ev.State

	if ev.Changed(core.FieldVolume) {
		e.audio.SyncVolume(st.Volume)
	}
	if ev.Changed(core.FieldItemID) {
		prev, next := core.NewQueue(st.Queue, st.ItemID).Neighbors()
		e.audio.SetSource(audio.SwitchRequest{
			Item:       st.ItemID,
			Prev:       prev,
			Next:       next,
			ShouldPlay: st.Playing,
			Resume:     st.Position,
		})
		return
	}

	if ev.Source == events.SourceAudio || e.coord.Flag(coord.FlagSourceSwitchInProgress) {
		return
	}
	if ev.Changed(core.FieldPosition) {
		e.audio.SyncPosition(st.Position, ev.Source == events.SourceUser)
	}
	if ev.Changed(core.FieldPlaying) {
		e.audio.SyncPlaying(st.Playing)
	}
}

func (e *Engine) onOutputEvent(ev audio.Event) {
	switch ev.Kind {
	case audio.EventTimeUpdate:
		if e.coord.Flag(coord.FlagDraggingPosition) || e.coord.Flag(coord.FlagSourceSwitchInProgress) {
			return
		}
		e.store.Update(core.Patch{Position: core.Ptr(ev.Time)}, events.SourceAudio)

	case audio.EventEnded:
		e.ended()
	}
}

// ended restarts the item on repeat-one and otherwise asks the server for
// the next one.
func (e *Engine) ended() {
	st := e.store.Snapshot()
	if st.Repeat == core.RepeatOne {
		e.log.WithField("item", st.ItemID).Debug("repeating item")
		e.audio.SyncPosition(0, true)
		e.audio.SyncPlaying(true)
		e.store.Update(core.Patch{Position: core.Ptr(0.0)}, events.SourceAudio)
		return
	}

	sent, err := e.request(core.Command{Action: core.ActionNext})
	if err != nil || !sent {
		e.store.Update(core.Patch{Playing: core.Ptr(false)}, events.SourceAudio)
	}
}

// scheduleSave writes the snapshot now when offline or when the last
// write is older than the throttle, and otherwise once the throttle ends.
func (e *Engine) scheduleSave() {
	if e.store.Offline() {
		e.saveNow(persist.SaveOptions{})
		return
	}

	e.mu.Lock()
	elapsed := e.clock.Since(e.lastSave)
	if elapsed >= e.throttle {
		e.mu.Unlock()
		e.saveNow(persist.SaveOptions{})
		return
	}
	if e.saveTimer == nil {
		e.saveTimer = e.clock.AfterFunc(e.throttle-elapsed, func() {
			e.mu.Lock()
			e.saveTimer = nil
			e.mu.Unlock()
			e.saveNow(persist.SaveOptions{})
		})
	}
	e.mu.Unlock()
}

func (e *Engine) saveNow(opts persist.SaveOptions) {
	e.mu.Lock()
	e.lastSave = e.clock.Now()
	e.mu.Unlock()
	e.persist.Save(opts)
}
