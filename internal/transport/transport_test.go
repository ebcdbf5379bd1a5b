package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"state frame", `{"type":"state","payload":{"playing":true}}`, "state", false},
		{"no payload", `{"type":"queue"}`, "queue", false},
		{"invalid json", `{"type":`, "", true},
		{"missing type", `{"payload":{}}`, "", true},
		{"blank type", `{"type":"  "}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, encerrors.ErrMalformedFrame) {
					t.Errorf("ParseFrame() error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame() error = %v", err)
			}
			if f.Type != tt.want {
				t.Errorf("Type = %q, want %q", f.Type, tt.want)
			}
		})
	}
}

func TestServerStatePatch(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"state","payload":{"currentItemId":"a","playing":false,"timestamp":5}}`))
	if err != nil {
		t.Fatal(err)
	}
	var st ServerState
	if err := DecodePayload(f.Payload, &st); err != nil {
		t.Fatal(err)
	}
	p := st.Patch()
	if got := p.Fields(); len(got) != 2 || got[0] != core.FieldItemID || got[1] != core.FieldPlaying {
		t.Errorf("Fields() = %v, want [itemId playing]", got)
	}
	if st.TimestampMillis != 5 {
		t.Errorf("TimestampMillis = %d, want 5", st.TimestampMillis)
	}
}

func newTestAPI(t *testing.T, h http.HandlerFunc, opts ...APIOption) *API {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api, err := NewAPI(srv.URL, "secret", time.Second, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return api
}

func TestAPIFetchState(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/playback/state" || r.URL.Query().Get("profile") != "p1" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"currentItemId":"x","volume":0.5,"timestamp":1700000000000}`))
	})

	st, err := api.FetchState(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if st.ItemID == nil || *st.ItemID != "x" || st.Volume == nil || *st.Volume != 0.5 {
		t.Errorf("FetchState() = %+v", st)
	}
	if st.TimestampMillis != 1700000000000 {
		t.Errorf("TimestampMillis = %d", st.TimestampMillis)
	}
}

func TestAPIRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
		notFound  bool
	}{
		{"recovers from 5xx", []int{500, 502, 200}, 3, false, false},
		{"gives up after retries", []int{500, 500, 500, 500, 500}, 4, true, false},
		{"no retry on 4xx", []int{404, 200}, 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			clk := clock.NewMock()
			api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[n-1]
				w.WriteHeader(status)
				if status == 200 {
					w.Write([]byte(`{"id":"p1"}`))
				} else {
					w.Write([]byte(`{"message":"nope"}`))
				}
			}, WithClock(clk))

			type result struct {
				id  string
				err error
			}
			done := make(chan result, 1)
			go func() {
				id, err := api.CurrentProfile(context.Background())
				done <- result{id, err}
			}()

			var res result
		wait:
			for {
				select {
				case res = <-done:
					break wait
				case <-time.After(5 * time.Millisecond):
					clk.Add(baseRetryWait * 4)
				}
			}

			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if (res.err != nil) != tt.wantErr {
				t.Fatalf("CurrentProfile() error = %v, wantErr %v", res.err, tt.wantErr)
			}
			if IsNotFound(res.err) != tt.notFound {
				t.Errorf("IsNotFound() = %v, want %v", IsNotFound(res.err), tt.notFound)
			}
			if !tt.wantErr && res.id != "p1" {
				t.Errorf("CurrentProfile() = %q, want p1", res.id)
			}
		})
	}
}

func TestAPIBackoffFollowsClock(t *testing.T) {
	var calls atomic.Int32
	clk := clock.NewMock()
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"p1"}`))
	}, WithClock(clk))

	done := make(chan error, 1)
	go func() {
		_, err := api.CurrentProfile(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatal("retried before the clock advanced")
	}

	waitFor(t, func() bool {
		clk.Add(baseRetryWait)
		return calls.Load() == 2
	})
	if err := <-done; err != nil {
		t.Errorf("CurrentProfile() error = %v", err)
	}
}

func TestAPICurrentProfileEmpty(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := api.CurrentProfile(context.Background()); !errors.Is(err, encerrors.ErrNoProfile) {
		t.Errorf("CurrentProfile() error = %v, want ErrNoProfile", err)
	}
}

func TestAPIFetchStateSharesInFlightRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Write([]byte(`{"timestamp":1}`))
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := api.FetchState(context.Background(), "p1"); err != nil {
				t.Errorf("FetchState() error = %v", err)
			}
		}()
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestAPIAddresses(t *testing.T) {
	tests := []struct {
		base   string
		wantWS string
	}{
		{"http://music.local:4533", "ws://music.local:4533/api/ws?profile=p+1"},
		{"https://music.example.com/base/", "wss://music.example.com/base/api/ws?profile=p+1"},
	}
	for _, tt := range tests {
		api, err := NewAPI(tt.base, "", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := api.WebSocketURL("p 1"); got != tt.wantWS {
			t.Errorf("WebSocketURL() = %q, want %q", got, tt.wantWS)
		}
	}

	api, _ := NewAPI("http://music.local", "", 0, nil)
	if got := api.StreamURL("a/b", "p1"); got != "http://music.local/api/items/a%2Fb/stream?profile=p1" {
		t.Errorf("StreamURL() = %q", got)
	}

	if _, err := NewAPI("ftp://music.local", "", 0, nil); err == nil {
		t.Error("NewAPI() accepted a non-http scheme")
	}
}

// wsServer accepts push channel connections and records what clients send.
type wsServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	received []string
	accepts  atomic.Int32
	greeting []string
}

func startWSServer(t *testing.T, greeting ...string) *wsServer {
	t.Helper()
	s := &wsServer{greeting: greeting}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("profile") != "p1" {
			http.Error(w, "unknown profile", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepts.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for _, g := range s.greeting {
			conn.WriteMessage(websocket.TextMessage, []byte(g))
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(data))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url(profile string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/ws?profile=" + profile
}

func (s *wsServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *wsServer) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

type inbox struct {
	mu   sync.Mutex
	msgs []coord.Message
}

func (b *inbox) EnqueueMessage(m coord.Message) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
	return uint64(len(b.msgs))
}

func (b *inbox) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Type
	}
	return out
}

type offlineLog struct {
	mu     sync.Mutex
	values []bool
}

func (o *offlineLog) SetOffline(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = append(o.values, v)
}

func (o *offlineLog) last() (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.values) == 0 {
		return false, false
	}
	return o.values[len(o.values)-1], true
}

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Publish(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, e)
}

func (l *eventLog) count(match func(events.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.evs {
		if match(e) {
			n++
		}
	}
	return n
}

func isConnected(e events.Event) bool    { _, ok := e.(events.Connected); return ok }
func isDisconnected(e events.Event) bool { _, ok := e.(events.Disconnected); return ok }

func TestChannelLifecycle(t *testing.T) {
	srv := startWSServer(t,
		`{"type":"state","payload":{"playing":true}}`,
		`not json`,
		`{"type":"queue","payload":{"items":["a"]}}`,
	)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	box := &inbox{}
	offline := &offlineLog{}
	evs := &eventLog{}
	var opens atomic.Int32
	ch := NewChannel(Options{
		URL:            srv.url,
		Identity:       identity.Resolved("p1"),
		Inbox:          box,
		Store:          offline,
		Events:         evs,
		OnOpen:         func(context.Context) { opens.Add(1) },
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         logger,
	})

	if ch.Send(TypeCommand, CommandPayload{Action: core.ActionPlay}) {
		t.Error("Send() succeeded before connecting")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	waitFor(t, func() bool { return len(box.types()) == 2 })
	if got := box.types(); got[0] != "state" || got[1] != "queue" {
		t.Errorf("enqueued = %v, want [state queue]", got)
	}
	if ch.State() != Connected {
		t.Errorf("State() = %v, want connected", ch.State())
	}
	if v, ok := offline.last(); !ok || v {
		t.Errorf("offline = %v, want false after connect", v)
	}
	waitFor(t, func() bool { return opens.Load() == 1 })
	if evs.count(isConnected) != 1 {
		t.Error("Connected not published")
	}

	dropped := false
	for _, e := range hook.AllEntries() {
		if e.Message == "dropping frame" {
			dropped = true
		}
	}
	if !dropped {
		t.Error("malformed frame was not logged")
	}

	if !ch.Send(TypeCommand, CommandPayload{Action: core.ActionPlay, Seq: 1}) {
		t.Fatal("Send() failed while connected")
	}
	waitFor(t, func() bool { return len(srv.messages()) == 1 })
	if msg := srv.messages()[0]; !strings.Contains(msg, `"type":"command"`) || !strings.Contains(msg, `"action":"play"`) {
		t.Errorf("server received %s", msg)
	}

	// Losing the connection flips offline and reconnects after the delay.
	srv.dropAll()
	waitFor(t, func() bool { return evs.count(isDisconnected) >= 1 })
	waitFor(t, func() bool { return srv.accepts.Load() == 2 })
	waitFor(t, func() bool { return opens.Load() == 2 })
	if v, _ := offline.last(); v {
		t.Error("still offline after reconnecting")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if ch.State() != Disconnected {
		t.Errorf("State() = %v after cancel", ch.State())
	}
}

func TestChannelWaitsForIdentity(t *testing.T) {
	srv := startWSServer(t)
	ident := identity.New()
	ch := NewChannel(Options{
		URL:      srv.url,
		Identity: ident,
		Inbox:    &inbox{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if srv.accepts.Load() != 0 {
		t.Fatal("connected before the profile was resolved")
	}

	ident.Resolve("p1")
	waitFor(t, func() bool { return ch.State() == Connected })
}

func TestChannelRetriesFailedDial(t *testing.T) {
	srv := startWSServer(t)
	offline := &offlineLog{}
	evs := &eventLog{}
	ch := NewChannel(Options{
		URL:            srv.url,
		Identity:       identity.Resolved("other"),
		Inbox:          &inbox{},
		Store:          offline,
		Events:         evs,
		ReconnectDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	waitFor(t, func() bool { return evs.count(isDisconnected) >= 2 })
	if v, ok := offline.last(); !ok || !v {
		t.Error("offline not set after a failed dial")
	}
	if evs.count(isConnected) != 0 {
		t.Error("Connected published for a rejected dial")
	}
}
