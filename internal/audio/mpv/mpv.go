// Package mpv is an audio output backed by an mpv process driven over its
// JSON IPC socket.
package mpv

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/audio"
	"github.com/tessro/encore/internal/logging"
)

const (
	socketWaitRetries = 10
	socketWaitDelay   = 300 * time.Millisecond
	quitTimeout       = 3 * time.Second
)

// Options configures the mpv output.
type Options struct {
	// Path is the mpv executable. Defaults to "mpv" on $PATH.
	Path string
	// Volume is the initial volume in [0,1].
	Volume float64
	Logger logrus.FieldLogger
}

// MPV implements audio.Primitive on top of a headless mpv process.
type MPV struct {
	path       string
	socketPath string
	cmd        *exec.Cmd
	exited     chan struct{}
	ready      chan struct{}
	readyOnce  sync.Once
	mu         sync.Mutex // serializes IPC requests
	listener   *eventListener
	listeners  *audio.Listeners
	log        *logrus.Entry

	stateMu      sync.Mutex
	addr         string
	duration     float64
	timePos      float64
	volume       float64
	awaitingPlay bool
}

// New creates an mpv output. Nothing is started until Start.
func New(opts Options) *MPV {
	if opts.Path == "" {
		opts.Path = "mpv"
	}
	return &MPV{
		path:      opts.Path,
		exited:    make(chan struct{}),
		ready:     make(chan struct{}),
		listeners: audio.NewListeners(),
		volume:    opts.Volume,
		log:       logging.Component(opts.Logger, "mpv"),
	}
}

// Start launches mpv idle and paused, waits for its IPC socket and begins
// listening for events. The output reports Ready only after Start returns
// successfully.
func (m *MPV) Start(ctx context.Context) error {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate socket name: %w", err)
	}
	m.socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("encore-%x.sock", randomBytes))

	args := []string{
		"--no-terminal",
		"--really-quiet",
		"--no-video",
		"--idle=yes",
		"--pause=yes",
		fmt.Sprintf("--input-ipc-server=%s", m.socketPath),
		fmt.Sprintf("--volume=%d", int(m.volume*100)),
	}

	m.cmd = exec.Command(m.path, args...)
	m.cmd.SysProcAttr = sysProcAttr()
	m.cmd.Stdout = nil
	m.cmd.Stderr = nil
	m.cmd.Stdin = nil

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}

	// Reap the process to avoid zombies
	go func() {
		_ = m.cmd.Wait()
		close(m.exited)
	}()

	if err := m.waitForSocket(ctx); err != nil {
		select {
		case <-m.exited:
		default:
			m.log.Warn("killing mpv: socket never became ready")
			_ = killProcess(m.cmd)
		}
		return fmt.Errorf("mpv socket not ready: %w", err)
	}

	m.listener = newEventListener(m.socketPath, m.handleMessage, m.log)
	if err := m.listener.start(); err != nil {
		return err
	}

	m.readyOnce.Do(func() { close(m.ready) })
	m.log.WithField("socket", m.socketPath).Info("mpv ready")
	return nil
}

// waitForSocket polls until the IPC socket accepts connections.
func (m *MPV) waitForSocket(ctx context.Context) error {
	for i := 0; i < socketWaitRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.exited:
			return errors.New("mpv exited before socket was ready")
		case <-time.After(socketWaitDelay):
		}

		conn, err := net.Dial("unix", m.socketPath)
		if err == nil {
			conn.Close()
			return nil
		}
	}
	return fmt.Errorf("socket %s not ready after %d attempts", m.socketPath, socketWaitRetries)
}

// Exited is closed when the mpv process ends.
func (m *MPV) Exited() <-chan struct{} {
	return m.exited
}

// Close quits mpv and removes its socket.
func (m *MPV) Close() error {
	if m.socketPath == "" {
		return nil
	}
	if m.listener != nil {
		m.listener.stop()
	}

	_, _ = m.sendCommand("quit")

	select {
	case <-m.exited:
	case <-time.After(quitTimeout):
		_ = killProcess(m.cmd)
	}

	_ = os.Remove(m.socketPath)
	return nil
}

func (m *MPV) Ready() <-chan struct{} { return m.ready }

func (m *MPV) Address() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.addr
}

func (m *MPV) Clear() {
	m.stateMu.Lock()
	m.addr = ""
	m.duration = 0
	m.timePos = 0
	m.awaitingPlay = false
	m.stateMu.Unlock()

	m.command("stop")
}

func (m *MPV) Load(address string) {
	target, err := sanitizeMediaTarget(address)
	if err != nil {
		m.log.WithError(err).Warn("refusing media target")
		m.listeners.Emit(audio.Event{Kind: audio.EventError, Err: err})
		return
	}

	m.stateMu.Lock()
	m.addr = address
	m.duration = 0
	m.timePos = 0
	m.awaitingPlay = true
	m.stateMu.Unlock()

	// Stay paused until the switch decides whether to play
	m.command("set_property", "pause", true)
	m.command("loadfile", target, "replace")
}

func (m *MPV) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.sendCommand("set_property", "pause", false)
	return err
}

func (m *MPV) Pause() {
	m.command("set_property", "pause", true)
}

func (m *MPV) CurrentTime() float64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.timePos
}

func (m *MPV) SetCurrentTime(seconds float64) {
	m.stateMu.Lock()
	m.timePos = seconds
	m.stateMu.Unlock()

	m.command("seek", seconds, "absolute")
}

func (m *MPV) Duration() float64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.duration
}

func (m *MPV) Volume() float64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.volume
}

func (m *MPV) SetVolume(v float64) {
	m.stateMu.Lock()
	m.volume = v
	m.stateMu.Unlock()

	m.command("set_property", "volume", v*100)
}

func (m *MPV) OnEvent(fn func(audio.Event)) func() {
	return m.listeners.Add(fn)
}

// command sends a fire-and-forget command, logging failures.
func (m *MPV) command(args ...any) {
	if _, err := m.sendCommand(args...); err != nil {
		m.log.WithError(err).WithField("command", args[0]).Warn("mpv command failed")
	}
}

// getFloatProperty retrieves a numeric mpv property.
func (m *MPV) getFloatProperty(name string) (float64, error) {
	data, err := m.sendCommand("get_property", name)
	if err != nil {
		return 0, err
	}
	val, ok := data.(float64)
	if !ok {
		return 0, fmt.Errorf("property %s: expected float64, got %T", name, data)
	}
	return val, nil
}

// handleMessage translates mpv events into primitive events.
func (m *MPV) handleMessage(msg message) {
	switch msg.Event {
	case "file-loaded":
		if dur, err := m.getFloatProperty("duration"); err == nil {
			m.stateMu.Lock()
			m.duration = dur
			m.stateMu.Unlock()
		}
		m.listeners.Emit(audio.Event{Kind: audio.EventMetadataReady})

	case "playback-restart":
		m.stateMu.Lock()
		first := m.awaitingPlay
		m.awaitingPlay = false
		m.stateMu.Unlock()
		if first {
			m.listeners.Emit(audio.Event{Kind: audio.EventCanPlay})
		}

	case "end-file":
		switch msg.Reason {
		case "eof":
			m.listeners.Emit(audio.Event{Kind: audio.EventEnded})
		case "error":
			m.listeners.Emit(audio.Event{Kind: audio.EventError, Err: fmt.Errorf("mpv: %s", msg.FileError)})
		}

	case "property-change":
		v, ok := msg.Data.(float64)
		if !ok {
			return
		}
		switch msg.Name {
		case "time-pos":
			m.stateMu.Lock()
			m.timePos = v
			m.stateMu.Unlock()
			m.listeners.Emit(audio.Event{Kind: audio.EventTimeUpdate, Time: v})
		case "duration":
			m.stateMu.Lock()
			m.duration = v
			m.stateMu.Unlock()
		}
	}
}

// sanitizeMediaTarget validates that an address is safe to pass to mpv.
func sanitizeMediaTarget(link string) (string, error) {
	l := strings.TrimSpace(link)
	if l == "" {
		return "", errors.New("empty address")
	}
	if strings.ContainsAny(l, "\x00\n\r") {
		return "", errors.New("invalid control characters in address")
	}
	// Addresses must not be mistaken for flags
	if strings.HasPrefix(l, "-") {
		return "", errors.New("address must not start with '-'")
	}

	if strings.Contains(l, "://") {
		u, err := url.Parse(l)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l, nil
		default:
			return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
		}
	}

	return filepath.Clean(l), nil
}
