package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/coord"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
	"github.com/tessro/encore/internal/logging"
)

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

const writeWait = 10 * time.Second

// State is the channel's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Enqueuer accepts inbound frames for ordered handling.
type Enqueuer interface {
	EnqueueMessage(m coord.Message) uint64
}

// OfflineSetter receives connectivity transitions.
type OfflineSetter interface {
	SetOffline(offline bool)
}

// Publisher receives connection events.
type Publisher interface {
	Publish(e events.Event)
}

// Options configures a Channel.
type Options struct {
	// URL maps the resolved profile to the push channel address.
	URL      func(profile string) string
	Header   http.Header
	Identity *identity.Context
	Inbox    Enqueuer
	Store    OfflineSetter
	Events   Publisher
	// OnOpen runs on its own goroutine after every successful connect.
	OnOpen         func(ctx context.Context)
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Clock          clock.Clock
	Logger         logrus.FieldLogger
}

// Channel is the push connection to the server. It reconnects with a
// fixed delay until its context ends.
type Channel struct {
	opts Options
	log  *logrus.Entry

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex
}

// NewChannel creates a disconnected channel.
func NewChannel(opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Channel{opts: opts, log: logging.Component(opts.Logger, "transport")}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps reconnecting until ctx is cancelled. It blocks
// until the profile is resolved.
func (c *Channel) Run(ctx context.Context) error {
	profile, err := c.opts.Identity.Wait(ctx)
	if err != nil {
		return nil
	}
	addr := c.opts.URL(profile)
	log := c.log.WithField("profile", profile)

	for {
		err := c.session(ctx, addr, profile)
		if ctx.Err() != nil {
			c.closed(nil)
			return nil
		}
		c.closed(err)
		log.WithError(err).Infof("push channel closed, reconnecting in %v", c.opts.ReconnectDelay)

		timer := c.opts.Clock.Timer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails.
func (c *Channel) session(ctx context.Context, addr, profile string) error {
	c.setState(Connecting)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, addr, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Join(encerrors.ErrNotConnected, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	c.opened(ctx, profile)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		frame, err := ParseFrame(data)
		if err != nil {
			c.log.WithError(err).WithField("bytes", len(data)).Warn("dropping frame")
			continue
		}
		c.opts.Inbox.EnqueueMessage(coord.Message{Type: frame.Type, Payload: frame.Payload})
	}
}

func (c *Channel) opened(ctx context.Context, profile string) {
	c.log.WithField("profile", profile).Info("push channel connected")
	if c.opts.Store != nil {
		c.opts.Store.SetOffline(false)
	}
	if c.opts.Events != nil {
		c.opts.Events.Publish(events.Connected{Profile: profile})
	}
	if c.opts.OnOpen != nil {
		go c.opts.OnOpen(ctx)
	}
}

func (c *Channel) closed(err error) {
	c.mu.Lock()
	wasConnected := c.state == Connected
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	if c.opts.Store != nil {
		c.opts.Store.SetOffline(true)
	}
	if c.opts.Events != nil && (wasConnected || err != nil) {
		c.opts.Events.Publish(events.Disconnected{Err: err})
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Send writes a frame. It returns false without sending when the channel
// is not connected or the write fails.
func (c *Channel) Send(typ string, payload any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		c.log.WithField("type", typ).Debug("not connected, frame not sent")
		return false
	}

	data, err := EncodeFrame(typ, payload)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode frame")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).WithField("type", typ).Warn("failed to send frame")
		return false
	}
	return true
}
