// Package coord serializes the asynchronous work around the playback state:
// per-resource locks with operation tokens, the inbound message queue and
// the render queue.
package coord

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/logging"
)

// Op is an operation category. Sequence numbers are counted per category.
type Op string

const (
	OpAudio   Op = "audio"
	OpCommand Op = "command"
	OpResync  Op = "resync"
)

// Key scopes a lock to one operation category and playback context.
type Key struct {
	Op      Op
	Context string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Op, k.Context)
}

// Token proves a callback belongs to the most recent operation on Key.
type Token struct {
	Key Key
	Seq uint64
}

// IsZero reports whether t was never issued.
func (t Token) IsZero() bool {
	return t.Seq == 0
}

// MessageTypeState is drained ahead of every other message type.
const MessageTypeState = "state"

// Message is one inbound frame waiting to be handled.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"-"`
}

// Flag names a boolean other components consult before writing.
type Flag string

const (
	FlagDraggingPosition       Flag = "draggingPosition"
	FlagDraggingVolume         Flag = "draggingVolume"
	FlagSourceSwitchInProgress Flag = "sourceSwitchInProgress"
	FlagMessageQueueBusy       Flag = "messageQueueBusy"
	FlagRenderQueueBusy        Flag = "renderQueueBusy"
)

// Executor runs fn at some later point. Each drain step of the message
// queue is one call.
type Executor func(fn func())

// GoExecutor runs every step on its own goroutine.
func GoExecutor(fn func()) { go fn() }

// FrameScheduler runs a callback before the next frame.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// ClockFrames schedules frames at a fixed interval on a clock.
type ClockFrames struct {
	Clock    clock.Clock
	Interval time.Duration
}

func (f ClockFrames) RequestFrame(fn func()) {
	f.Clock.AfterFunc(f.Interval, fn)
}

// Options configures a Coordinator.
type Options struct {
	Executor Executor
	Frames   FrameScheduler
	Logger   logrus.FieldLogger
}

// Coordinator is safe for concurrent use. Callbacks never run while its
// internal lock is held.
type Coordinator struct {
	mu     sync.Mutex
	locks  map[Key]bool
	seq    map[Op]uint64
	active map[Key]Token
	flags  map[Flag]bool

	msgSeq   uint64
	inbox    []Message
	draining bool
	handler  func(Message)

	renders   []func()
	rendering bool

	exec   Executor
	frames FrameScheduler
	log    *logrus.Entry
}

// New creates a coordinator. Missing options fall back to goroutine
// execution and a 16ms wall-clock frame.
func New(opts Options) *Coordinator {
	if opts.Executor == nil {
		opts.Executor = GoExecutor
	}
	if opts.Frames == nil {
		opts.Frames = ClockFrames{Clock: clock.New(), Interval: 16 * time.Millisecond}
	}
	return &Coordinator{
		locks:  make(map[Key]bool),
		seq:    make(map[Op]uint64),
		active: make(map[Key]Token),
		flags:  make(map[Flag]bool),
		exec:   opts.Executor,
		frames: opts.Frames,
		log:    logging.Component(opts.Logger, "coord"),
	}
}

// RunExclusive runs action while holding key. If key is already held it
// returns false without running action. The lock is released on every
// exit; a panic in action propagates after the release.
func (c *Coordinator) RunExclusive(key Key, action func(Token) error) (ran bool, err error) {
	c.mu.Lock()
	if c.locks[key] {
		c.mu.Unlock()
		c.log.WithField("key", key).Debug("resource busy, dropping")
		return false, nil
	}
	c.locks[key] = true
	c.seq[key.Op]++
	tok := Token{Key: key, Seq: c.seq[key.Op]}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.locks, key)
		c.mu.Unlock()
	}()

	return true, action(tok)
}

// Locked reports whether key is currently held.
func (c *Coordinator) Locked(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key]
}

// Sequence returns the last sequence number issued for op.
func (c *Coordinator) Sequence(op Op) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq[op]
}

// ClaimOperation makes tok the active operation for its key and returns
// the token it superseded, if any.
func (c *Coordinator) ClaimOperation(tok Token) (previous Token, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous, ok = c.active[tok.Key]
	c.active[tok.Key] = tok
	return previous, ok
}

// ReleaseOperation clears the active operation only if it is still
// expected. Releasing a superseded token is a no-op that returns false.
func (c *Coordinator) ReleaseOperation(expected Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.active[expected.Key]; !ok || cur != expected {
		return false
	}
	delete(c.active, expected.Key)
	return true
}

// IsActive reports whether tok is the active operation for its key.
func (c *Coordinator) IsActive(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.active[tok.Key]
	return ok && cur == tok
}

// SetFlag sets a named flag.
func (c *Coordinator) SetFlag(f Flag, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[f] = v
}

// Flag returns a named flag.
func (c *Coordinator) Flag(f Flag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[f]
}

// SetMessageHandler installs the consumer of the inbound queue.
func (c *Coordinator) SetMessageHandler(h func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// EnqueueMessage stamps m with the next sequence number and schedules the
// queue to drain. State messages are handled before all others; order is
// otherwise preserved.
func (c *Coordinator) EnqueueMessage(m Message) uint64 {
	c.mu.Lock()
	c.msgSeq++
	m.Seq = c.msgSeq
	c.inbox = append(c.inbox, m)

	start := !c.draining
	if start {
		c.draining = true
		c.flags[FlagMessageQueueBusy] = true
	}
	c.mu.Unlock()

	if start {
		c.exec(c.drainOne)
	}
	return m.Seq
}

// Pending returns the number of queued inbound messages.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

func (c *Coordinator) drainOne() {
	c.mu.Lock()
	if len(c.inbox) == 0 {
		c.draining = false
		c.flags[FlagMessageQueueBusy] = false
		c.mu.Unlock()
		return
	}
	slices.SortStableFunc(c.inbox, func(a, b Message) int {
		return priority(a) - priority(b)
	})
	m := c.inbox[0]
	c.inbox = c.inbox[1:]
	h := c.handler
	c.mu.Unlock()

	c.handle(h, m)
	c.exec(c.drainOne)
}

func (c *Coordinator) handle(h func(Message), m Message) {
	if h == nil {
		c.log.WithField("type", m.Type).Warn("no message handler, dropping")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"type": m.Type,
				"seq":  m.Seq,
			}).Errorf("message handler failed: %v", r)
		}
	}()
	h(m)
}

func priority(m Message) int {
	if m.Type == MessageTypeState {
		return 0
	}
	return 1
}

// EnqueueRenderOp queues op to run on a later frame. Operations run one per
// frame in FIFO order.
func (c *Coordinator) EnqueueRenderOp(op func()) {
	c.mu.Lock()
	c.renders = append(c.renders, op)
	start := !c.rendering
	if start {
		c.rendering = true
		c.flags[FlagRenderQueueBusy] = true
	}
	c.mu.Unlock()

	if start {
		c.frames.RequestFrame(c.renderOne)
	}
}

func (c *Coordinator) renderOne() {
	c.mu.Lock()
	if len(c.renders) == 0 {
		c.rendering = false
		c.flags[FlagRenderQueueBusy] = false
		c.mu.Unlock()
		return
	}
	op := c.renders[0]
	c.renders = c.renders[1:]
	c.mu.Unlock()

	c.runRender(op)

	c.mu.Lock()
	more := len(c.renders) > 0
	if !more {
		c.rendering = false
		c.flags[FlagRenderQueueBusy] = false
	}
	c.mu.Unlock()

	if more {
		c.frames.RequestFrame(c.renderOne)
	}
}

func (c *Coordinator) runRender(op func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("render op failed: %v", r)
		}
	}()
	op()
}
