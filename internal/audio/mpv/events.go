package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// observed lists the properties mpv reports changes for.
var observed = []string{"time-pos", "duration", "pause"}

// eventListener holds a persistent connection on which mpv delivers
// property changes and lifecycle events.
type eventListener struct {
	socketPath string
	handle     func(message)
	log        *logrus.Entry

	mu        sync.Mutex
	conn      net.Conn
	listening bool
	done      chan struct{}
}

func newEventListener(socketPath string, handle func(message), log *logrus.Entry) *eventListener {
	return &eventListener{
		socketPath: socketPath,
		handle:     handle,
		log:        log,
	}
}

// start registers the property observers and begins the read loop.
// Observers are bound to the connection, so they are sent on it.
func (el *eventListener) start() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.listening {
		return nil
	}

	conn, err := net.Dial("unix", el.socketPath)
	if err != nil {
		return fmt.Errorf("event listener connect: %w", err)
	}

	for i, name := range observed {
		if err := writeRequest(conn, []any{"observe_property", i + 1, name}, nextRequestID()); err != nil {
			conn.Close()
			return fmt.Errorf("observe %s: %w", name, err)
		}
	}

	el.conn = conn
	el.listening = true
	el.done = make(chan struct{})
	go el.readLoop(conn, el.done)

	el.log.WithField("socket", el.socketPath).Debug("mpv event listener started")
	return nil
}

// stop closes the connection, which ends the read loop.
func (el *eventListener) stop() {
	el.mu.Lock()
	if !el.listening {
		el.mu.Unlock()
		return
	}
	el.listening = false
	conn, done := el.conn, el.done
	el.mu.Unlock()

	conn.Close()
	<-done
}

func (el *eventListener) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		el.process(scanner.Bytes())
	}

	el.mu.Lock()
	stillListening := el.listening
	el.listening = false
	el.mu.Unlock()

	if err := scanner.Err(); err != nil && stillListening {
		el.log.WithError(err).Warn("mpv event listener read error")
	}
}

// process parses and dispatches a single event line. Replies to the
// observe requests and unparseable lines are skipped.
func (el *eventListener) process(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		el.log.WithError(err).Debug("skipping unparseable mpv line")
		return
	}
	if msg.Event == "" {
		return
	}
	el.handle(msg)
}
