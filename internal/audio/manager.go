package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
	"github.com/tessro/encore/internal/logging"
)

const (
	// DefaultRetryDelay is how long a switch waits for an uninitialized
	// output before its single retry.
	DefaultRetryDelay = 500 * time.Millisecond

	// DriftThreshold is how far the output may wander from the stored
	// position before it is re-seeked.
	DriftThreshold = 2.0

	playTimeout = 5 * time.Second
)

// StateWriter is the part of the store the manager reads and writes.
type StateWriter interface {
	Snapshot() core.PlaybackState
	Update(p core.Patch, source events.Source)
}

// Publisher receives AudioFailed events.
type Publisher interface {
	Publish(events.Event)
}

// SwitchRequest asks the manager to make Item the playing source.
type SwitchRequest struct {
	Item       string
	Prev       string
	Next       string
	ShouldPlay bool
	Resume     float64
}

// Options configures a Manager.
type Options struct {
	Coordinator *coord.Coordinator
	Identity    *identity.Context
	Store       StateWriter
	Events      Publisher
	Address     AddressFunc
	Clock       clock.Clock
	RetryDelay  time.Duration
	Logger      logrus.FieldLogger
}

// Manager performs source switches on a primitive. Switches for the same
// profile never overlap: a request arriving while another holds the lock
// is dropped, and a request that gets the lock supersedes any switch still
// waiting for its output events.
type Manager struct {
	prim       Primitive
	coord      *coord.Coordinator
	ident      *identity.Context
	store      StateWriter
	events     Publisher
	address    AddressFunc
	clock      clock.Clock
	retryDelay time.Duration
	log        *logrus.Entry

	mu      sync.Mutex
	loaded  string
	current *switchOp
	// pending is the latest request made before the profile resolved.
	pending  *SwitchRequest
	awaiting bool
}

// NewManager creates a manager driving prim.
func NewManager(prim Primitive, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Address == nil {
		opts.Address = func(id string) string { return id }
	}
	return &Manager{
		prim:       prim,
		coord:      opts.Coordinator,
		ident:      opts.Identity,
		store:      opts.Store,
		events:     opts.Events,
		address:    opts.Address,
		clock:      opts.Clock,
		retryDelay: opts.RetryDelay,
		log:        logging.Component(opts.Logger, "audio"),
	}
}

// Primitive returns the driven output.
func (m *Manager) Primitive() Primitive {
	return m.prim
}

// Loaded returns the item whose source switch last committed.
func (m *Manager) Loaded() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// SetSource starts a switch to req.Item. It returns false when the
// request was dropped because another switch holds the lock, or when the
// output is not ready yet (a single retry is then scheduled). Requests
// made before the profile resolves wait for it; only the latest of them
// runs.
func (m *Manager) SetSource(req SwitchRequest) bool {
	if _, ok := m.ident.Current(); !ok {
		m.awaitProfile(req)
		return false
	}
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	return m.setSource(req, 1)
}

func (m *Manager) awaitProfile(req SwitchRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = &req
	if m.awaiting {
		return
	}
	m.awaiting = true
	m.log.WithField("item", req.Item).Debug("waiting for profile before switching")

	go func() {
		<-m.ident.Ready()
		m.mu.Lock()
		next := m.pending
		m.pending = nil
		m.awaiting = false
		m.mu.Unlock()
		if next != nil {
			m.setSource(*next, 1)
		}
	}()
}

func (m *Manager) setSource(req SwitchRequest, attempt int) bool {
	profile, _ := m.ident.Current()

	key := coord.Key{Op: coord.OpAudio, Context: profile}
	ran, err := m.coord.RunExclusive(key, func(tok coord.Token) error {
		return m.switchSource(tok, req)
	})
	if !ran {
		m.log.WithField("item", req.Item).Debug("switch in progress, dropping request")
		return false
	}
	if errors.Is(err, encerrors.ErrPrimitiveNotReady) {
		return m.notReady(req, attempt)
	}
	return err == nil
}

func (m *Manager) notReady(req SwitchRequest, attempt int) bool {
	log := m.log.WithFields(logrus.Fields{"item": req.Item, "attempt": attempt})
	if attempt > 1 {
		log.Warn("audio output still not ready, giving up on switch")
		return false
	}
	log.Debug("audio output not ready, retrying")
	m.clock.AfterFunc(m.retryDelay, func() {
		m.setSource(req, attempt+1)
	})
	return false
}

func (m *Manager) switchSource(tok coord.Token, req SwitchRequest) error {
	if prev, ok := m.coord.ClaimOperation(tok); ok {
		m.log.WithField("superseded", prev.Seq).Debug("superseding pending switch")
	}
	m.coord.SetFlag(coord.FlagSourceSwitchInProgress, true)

	if !IsReady(m.prim) {
		m.finish(tok)
		return encerrors.ErrPrimitiveNotReady
	}

	// A restore can land before the output starts; volume follows the store.
	if m.store != nil {
		m.prim.SetVolume(lo.Clamp(m.store.Snapshot().Volume, 0, 1))
	}

	m.mu.Lock()
	loaded := m.loaded
	m.current = nil
	m.mu.Unlock()

	if req.Item != "" && req.Item == loaded {
		if req.ShouldPlay {
			m.log.WithField("item", req.Item).Debug("fast resume")
			m.play()
		} else {
			m.seek(req.Resume)
			m.prim.Pause()
		}
		m.finish(tok)
		return nil
	}

	if req.Item == "" {
		m.mu.Lock()
		m.loaded = ""
		m.mu.Unlock()
		m.prim.Clear()
		m.finish(tok)
		return nil
	}

	op := &switchOp{m: m, tok: tok, req: req}
	m.mu.Lock()
	m.current = op
	m.loaded = ""
	m.mu.Unlock()
	op.attach()

	addr := m.address(req.Item)
	if m.prim.Address() != addr {
		m.prim.Clear()
	}
	m.prim.Load(addr)

	if pl, ok := m.prim.(Preloader); ok {
		pl.Preload(m.addressOf(req.Prev), m.addressOf(req.Next))
	}

	m.log.WithFields(logrus.Fields{
		"item": req.Item,
		"seq":  tok.Seq,
	}).Debug("switching source")
	return nil
}

func (m *Manager) addressOf(item string) string {
	if item == "" {
		return ""
	}
	return m.address(item)
}

// finish releases tok and clears the in-progress flag.
func (m *Manager) finish(tok coord.Token) {
	m.coord.ReleaseOperation(tok)
	m.coord.SetFlag(coord.FlagSourceSwitchInProgress, false)
}

func (m *Manager) isCurrent(op *switchOp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == op
}

func (m *Manager) commit(op *switchOp) {
	if !m.coord.IsActive(op.tok) || !m.isCurrent(op) {
		m.log.WithField("seq", op.tok.Seq).Debug("stale metadata, ignoring")
		op.detach()
		return
	}

	dur := math.Max(m.prim.Duration(), 0)
	pos := math.Max(op.req.Resume, 0)
	if dur > 0 {
		pos = lo.Clamp(pos, 0, dur)
	}

	m.store.Update(core.Patch{Duration: core.Ptr(dur), Position: core.Ptr(pos)}, events.SourceAudio)
	m.prim.SetCurrentTime(pos)

	m.mu.Lock()
	m.loaded = op.req.Item
	op.committed = true
	m.mu.Unlock()

	m.coord.ReleaseOperation(op.tok)
}

func (m *Manager) start(op *switchOp) {
	if !m.isCurrent(op) {
		op.detach()
		return
	}

	if op.req.ShouldPlay {
		m.play()
	} else {
		m.prim.Pause()
	}

	m.mu.Lock()
	done := op.committed
	if done {
		m.current = nil
	}
	m.mu.Unlock()

	if done {
		m.coord.SetFlag(coord.FlagSourceSwitchInProgress, false)
		op.detach()
	}
}

func (m *Manager) fail(op *switchOp, err error) {
	if !m.isCurrent(op) {
		op.detach()
		return
	}

	m.mu.Lock()
	m.current = nil
	m.loaded = ""
	m.mu.Unlock()

	m.finish(op.tok)
	op.detach()

	m.log.WithError(err).WithField("item", op.req.Item).Warn("audio load failed")
	if m.events != nil {
		m.events.Publish(events.AudioFailed{ItemID: op.req.Item, Err: err})
	}
}

func (m *Manager) play() {
	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()
	if err := m.prim.Play(ctx); err != nil {
		m.log.WithError(err).Warn("play failed")
	}
}

func (m *Manager) seek(pos float64) {
	if dur := m.prim.Duration(); dur > 0 {
		pos = lo.Clamp(pos, 0, dur)
	}
	m.prim.SetCurrentTime(math.Max(pos, 0))
}

// SyncPlaying mirrors the playing flag onto the output.
func (m *Manager) SyncPlaying(playing bool) {
	if !IsReady(m.prim) {
		return
	}
	if playing {
		m.play()
	} else {
		m.prim.Pause()
	}
}

// SyncVolume mirrors the volume onto the output.
func (m *Manager) SyncVolume(v float64) {
	if !IsReady(m.prim) {
		return
	}
	m.prim.SetVolume(lo.Clamp(v, 0, 1))
}

// SyncPosition seeks the output to pos when force is set or the output has
// drifted more than DriftThreshold seconds away.
func (m *Manager) SyncPosition(pos float64, force bool) {
	if !IsReady(m.prim) {
		return
	}
	if force || math.Abs(m.prim.CurrentTime()-pos) > DriftThreshold {
		m.seek(pos)
	}
}

// switchOp is one in-flight switch waiting for output events.
type switchOp struct {
	m         *Manager
	tok       coord.Token
	req       SwitchRequest
	committed bool

	mu    sync.Mutex
	unsub func()
	done  bool
}

func (op *switchOp) attach() {
	unsub := op.m.prim.OnEvent(op.handle)
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.done {
		unsub()
		return
	}
	op.unsub = unsub
}

func (op *switchOp) detach() {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.done = true
	if op.unsub != nil {
		op.unsub()
		op.unsub = nil
	}
}

func (op *switchOp) handle(ev Event) {
	switch ev.Kind {
	case EventMetadataReady:
		op.m.commit(op)
	case EventCanPlay:
		op.m.start(op)
	case EventError:
		op.m.fail(op, ev.Err)
	}
}
