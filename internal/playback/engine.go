// Package playback wires the synchronization core together. An Engine
// turns user commands into optimistic store updates, merges server pushes
// into the store, mirrors the store onto the audio output and keeps the
// local snapshot current.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/audio"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
	"github.com/tessro/encore/internal/logging"
	"github.com/tessro/encore/internal/persist"
	"github.com/tessro/encore/internal/state"
	"github.com/tessro/encore/internal/suppress"
	"github.com/tessro/encore/internal/transport"
)

const (
	// DefaultDebounce is the minimum spacing between processed state
	// pushes. Pushes arriving sooner are dropped.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultSaveThrottle is the minimum spacing between snapshot writes
	// while online.
	DefaultSaveThrottle = 5 * time.Second

	maxPendingCommands = 32
)

// Sender delivers frames to the server.
type Sender interface {
	Send(typ string, payload any) bool
}

// StateFetcher retrieves the authoritative state out of band.
type StateFetcher interface {
	FetchState(ctx context.Context, profile string) (transport.ServerState, error)
}

// Notifier shows user-visible failures.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Options holds the components an Engine drives. Every component is
// constructed by the caller; the engine never creates globals.
type Options struct {
	Store       *state.Store
	Tracker     *suppress.Tracker
	Persist     *persist.Layer
	Coordinator *coord.Coordinator
	Audio       *audio.Manager
	Identity    *identity.Context
	Events      *events.Bus
	API         StateFetcher
	Notifier    Notifier

	Debounce     time.Duration
	SaveThrottle time.Duration
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

type pendingCommand struct {
	action   core.Action
	rollback core.Patch
}

// Engine is the playback controller.
type Engine struct {
	store    *state.Store
	tracker  *suppress.Tracker
	persist  *persist.Layer
	coord    *coord.Coordinator
	audio    *audio.Manager
	ident    *identity.Context
	bus      *events.Bus
	api      StateFetcher
	notifier Notifier

	debounce time.Duration
	throttle time.Duration
	clock    clock.Clock
	log      *logrus.Entry

	mu          sync.Mutex
	sender      Sender
	lastState   time.Time
	stateSeen   bool
	lastSave    time.Time
	saveTimer   *clock.Timer
	cmdSeq      uint64
	pending     map[uint64]pendingCommand
	unsubscribe []func()
}

// New creates an engine and attaches it to the store, the coordinator's
// inbound queue and the audio output.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SaveThrottle <= 0 {
		opts.SaveThrottle = DefaultSaveThrottle
	}
	if opts.Events == nil {
		opts.Events = events.NewBus(opts.Logger)
	}

	e := &Engine{
		store:    opts.Store,
		tracker:  opts.Tracker,
		persist:  opts.Persist,
		coord:    opts.Coordinator,
		audio:    opts.Audio,
		ident:    opts.Identity,
		bus:      opts.Events,
		api:      opts.API,
		notifier: opts.Notifier,
		debounce: opts.Debounce,
		throttle: opts.SaveThrottle,
		clock:    opts.Clock,
		log:      logging.Component(opts.Logger, "playback"),
		pending:  make(map[uint64]pendingCommand),
	}

	e.coord.SetMessageHandler(e.HandleMessage)
	e.unsubscribe = append(e.unsubscribe, e.store.Subscribe(e.onStoreEvent))
	if e.audio != nil {
		e.unsubscribe = append(e.unsubscribe, e.audio.Primitive().OnEvent(e.onOutputEvent))
	}
	return e
}

// SetSender attaches the outbound channel. Until then the engine behaves
// as if offline.
func (e *Engine) SetSender(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = s
}

// Events returns the bus carrying connection, command and audio events.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() core.PlaybackState {
	return e.store.Snapshot()
}

// Offline reports whether the push channel is down.
func (e *Engine) Offline() bool {
	return e.store.Offline()
}

// Subscribe delivers every store and engine event to h on the render
// queue, one event per frame in publication order.
func (e *Engine) Subscribe(h events.Handler) (unsubscribe func()) {
	deliver := func(ev events.Event) {
		e.coord.EnqueueRenderOp(func() { h(ev) })
	}
	unsubStore := e.store.Subscribe(deliver)
	unsubBus := e.bus.Subscribe(deliver)
	return func() {
		unsubStore()
		unsubBus()
	}
}

// Start restores a recent local snapshot, if any. It reports whether one
// was applied.
func (e *Engine) Start() bool {
	snap, ok := e.persist.Restore().Get()
	if !ok {
		e.log.Debug("no snapshot to restore")
		return false
	}
	e.log.WithFields(logrus.Fields{
		"item":      snap.ItemID,
		"timestamp": snap.TimestampMillis,
	}).Info("restoring local snapshot")
	e.store.Replace(snap.Patch(), events.SourceRestore)
	return true
}

// Close detaches the engine and writes a final snapshot including the
// live position.
func (e *Engine) Close() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	if e.saveTimer != nil {
		e.saveTimer.Stop()
		e.saveTimer = nil
	}
	e.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	e.persist.Save(persist.SaveOptions{IncludeLivePosition: true})
}

// SetDragging marks a position or volume gesture as active. While it is,
// server pushes and output updates leave that field alone.
func (e *Engine) SetDragging(f core.Field, dragging bool) {
	switch f {
	case core.FieldPosition:
		e.coord.SetFlag(coord.FlagDraggingPosition, dragging)
	case core.FieldVolume:
		e.coord.SetFlag(coord.FlagDraggingVolume, dragging)
	}
}

// RequestCommand applies cmd optimistically and forwards it to the
// server. While offline the local change stands on its own and nothing is
// sent.
func (e *Engine) RequestCommand(cmd core.Command) error {
	_, err := e.request(cmd)
	return err
}

// Dispatch is RequestCommand for callers that wait on the outcome. It
// reports whether the command was handed to the channel; only then will
// CommandAcknowledged or CommandFailed follow.
func (e *Engine) Dispatch(cmd core.Command) (sent bool, err error) {
	return e.request(cmd)
}

func (e *Engine) request(cmd core.Command) (sent bool, err error) {
	before := e.store.Snapshot()
	patch, err := optimisticPatch(cmd, before)
	if err != nil {
		return false, err
	}

	if len(suppress.Conflicts(cmd.Action)) > 0 {
		e.tracker.Record(cmd.Action)
	}

	e.mu.Lock()
	e.cmdSeq++
	seq := e.cmdSeq
	sender := e.sender
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{"action": cmd.Action, "seq": seq})

	if !patch.IsEmpty() {
		e.store.Update(patch, events.SourceUser)
	}

	if sender == nil || e.store.Offline() {
		log.Debug("offline, command applied locally")
		return false, nil
	}

	e.remember(seq, pendingCommand{action: cmd.Action, rollback: patch.Rollback(before)})
	sent = sender.Send(transport.TypeCommand, transport.CommandPayload{
		Action:   cmd.Action,
		Value:    cmd.Value,
		Seq:      seq,
		DeviceID: e.persist.DeviceID(),
	})
	if !sent {
		e.forget(seq)
		log.Debug("command not sent")
	}
	return sent, nil
}

// optimisticPatch returns the local change cmd makes to s. Previous and
// next have no local effect; the server decides the neighbouring item.
func optimisticPatch(cmd core.Command, s core.PlaybackState) (core.Patch, error) {
	switch cmd.Action {
	case core.ActionPlayPause:
		return core.Patch{Playing: core.Ptr(!s.Playing)}, nil
	case core.ActionPlay:
		return core.Patch{Playing: core.Ptr(true)}, nil
	case core.ActionPause:
		return core.Patch{Playing: core.Ptr(false)}, nil
	case core.ActionSeek:
		pos := max(cmd.Value, 0)
		if s.Duration > 0 {
			pos = lo.Clamp(pos, 0, s.Duration)
		}
		return core.Patch{Position: core.Ptr(pos)}, nil
	case core.ActionVolume:
		return core.Patch{Volume: core.Ptr(cmd.Value)}, nil
	case core.ActionShuffleCycle:
		return core.Patch{Shuffle: core.Ptr(s.Shuffle.Next())}, nil
	case core.ActionRepeatCycle:
		return core.Patch{Repeat: core.Ptr(s.Repeat.Next())}, nil
	case core.ActionNext, core.ActionPrevious:
		return core.Patch{}, nil
	default:
		return core.Patch{}, fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (e *Engine) remember(seq uint64, pc pendingCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[seq] = pc
	if len(e.pending) <= maxPendingCommands {
		return
	}
	oldest := seq
	for s := range e.pending {
		oldest = min(oldest, s)
	}
	delete(e.pending, oldest)
}

func (e *Engine) forget(seq uint64) (pendingCommand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.pending[seq]
	delete(e.pending, seq)
	return pc, ok
}
