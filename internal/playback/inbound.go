package playback

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/transport"
)

// HandleMessage processes one inbound frame. The coordinator calls it
// for every drained message.
func (e *Engine) HandleMessage(m coord.Message) {
	log := e.log.WithFields(logrus.Fields{"type": m.Type, "seq": m.Seq})

	switch m.Type {
	case transport.TypeState:
		var st transport.ServerState
		if err := transport.DecodePayload(m.Payload, &st); err != nil {
			log.WithError(err).Warn("dropping state message")
			return
		}
		e.applyServerState(st, log)

	case transport.TypeQueue:
		var q transport.QueuePayload
		if err := transport.DecodePayload(m.Payload, &q); err != nil {
			log.WithError(err).Warn("dropping queue message")
			return
		}
		items := q.Items
		if items == nil {
			items = []string{}
		}
		e.store.Update(core.Patch{Queue: &items}, events.SourceServer)

	case transport.TypeCommandResult:
		var res transport.CommandResult
		if err := transport.DecodePayload(m.Payload, &res); err != nil {
			log.WithError(err).Warn("dropping command result")
			return
		}
		e.applyCommandResult(res, log)

	default:
		log.Debug("ignoring message")
	}
}

func (e *Engine) applyServerState(st transport.ServerState, log *logrus.Entry) {
	now := e.clock.Now()

	e.mu.Lock()
	if e.stateSeen && now.Sub(e.lastState) < e.debounce {
		e.mu.Unlock()
		log.WithField("since", now.Sub(e.lastState)).Debug("debounced state message")
		return
	}
	e.stateSeen = true
	e.lastState = now
	e.mu.Unlock()

	p := e.tracker.Filter(st.Patch())
	if e.coord.Flag(coord.FlagDraggingPosition) {
		p = p.Without(core.FieldPosition)
	}
	if e.coord.Flag(coord.FlagDraggingVolume) {
		p = p.Without(core.FieldVolume)
	}
	if p.IsEmpty() {
		return
	}
	e.store.Update(p, events.SourceServer)
}

func (e *Engine) applyCommandResult(res transport.CommandResult, log *logrus.Entry) {
	pc, ok := e.forget(res.Seq)
	if res.OK {
		if ok {
			e.bus.Publish(events.CommandAcknowledged{Action: pc.action, Seq: res.Seq})
		}
		return
	}

	action := res.Action
	if ok {
		action = pc.action
	}
	reason := res.Error
	if reason == "" {
		reason = encerrors.ErrCommandRejected.Error()
	}
	log = log.WithFields(logrus.Fields{"action": action, "reason": reason})

	if !ok {
		log.Warn("command failed, nothing to roll back")
	} else {
		log.Warn("command failed, rolling back")
		if !pc.rollback.IsEmpty() {
			e.store.Update(pc.rollback, events.SourceRollback)
		}
	}

	e.bus.Publish(events.CommandFailed{Action: action, Reason: reason})
	if e.notifier != nil {
		e.notifier.Notify(string(action) + " failed: " + reason)
	}
}

// Resync fetches the authoritative state and replaces the store with
// whichever of it and the local snapshot is newer. Ties go to the server.
// The channel runs it after every connect.
func (e *Engine) Resync(ctx context.Context) error {
	profile, err := e.ident.Wait(ctx)
	if err != nil {
		return err
	}
	if e.api == nil {
		return nil
	}

	key := coord.Key{Op: coord.OpResync, Context: profile}
	ran, err := e.coord.RunExclusive(key, func(coord.Token) error {
		return e.resync(ctx, profile)
	})
	if !ran {
		e.log.Debug("resync already running")
		return nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.WithError(err).Warn("resync failed")
	}
	return err
}

func (e *Engine) resync(ctx context.Context, profile string) error {
	remote, err := e.api.FetchState(ctx, profile)
	if err != nil {
		return err
	}

	log := e.log.WithFields(logrus.Fields{
		"profile":          profile,
		"remote_timestamp": remote.TimestampMillis,
	})

	if snap, ok := e.persist.Restore().Get(); ok && snap.TimestampMillis > remote.TimestampMillis {
		log.WithField("local_timestamp", snap.TimestampMillis).Info("local snapshot is newer, keeping it")
		e.store.Replace(snap.Patch(), events.SourceRestore)
		return nil
	}

	log.Debug("applying server state")
	e.store.Replace(remote.Patch(), events.SourceResync)
	return nil
}
