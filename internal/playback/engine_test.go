package playback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tessro/encore/internal/audio"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
	"github.com/tessro/encore/internal/persist"
	"github.com/tessro/encore/internal/state"
	"github.com/tessro/encore/internal/suppress"
	"github.com/tessro/encore/internal/transport"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type sentFrame struct {
	Type    string
	Payload transport.CommandPayload
}

type fakeSender struct {
	mu     sync.Mutex
	ok     bool
	frames []sentFrame
}

func (s *fakeSender) Send(typ string, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, _ := payload.(transport.CommandPayload)
	s.frames = append(s.frames, sentFrame{Type: typ, Payload: cmd})
	return s.ok
}

func (s *fakeSender) sent() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.frames...)
}

type fakeAPI struct {
	mu    sync.Mutex
	state transport.ServerState
	err   error
	calls int
}

func (a *fakeAPI) FetchState(ctx context.Context, profile string) (transport.ServerState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.state, a.err
}

// manualFrames runs queued render callbacks only when told to.
type manualFrames struct {
	mu  sync.Mutex
	fns []func()
}

func (f *manualFrames) RequestFrame(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
}

func (f *manualFrames) frame() {
	f.mu.Lock()
	fns := f.fns
	f.fns = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) stateChanges(src events.Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evs {
		if sc, ok := e.(events.StateChanged); ok && sc.Source == src {
			n++
		}
	}
	return n
}

func (r *recorder) commandFailures() []events.CommandFailed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.CommandFailed
	for _, e := range r.evs {
		if cf, ok := e.(events.CommandFailed); ok {
			out = append(out, cf)
		}
	}
	return out
}

func (r *recorder) acks() []events.CommandAcknowledged {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.CommandAcknowledged
	for _, e := range r.evs {
		if a, ok := e.(events.CommandAcknowledged); ok {
			out = append(out, a)
		}
	}
	return out
}

type harness struct {
	clk     *clock.Mock
	store   *state.Store
	tracker *suppress.Tracker
	layer   *persist.Layer
	coord   *coord.Coordinator
	frames  *manualFrames
	out     *audio.Silent
	audio   *audio.Manager
	api     *fakeAPI
	sender  *fakeSender
	notes   []string
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(epoch)

	h := &harness{
		clk:    clk,
		frames: &manualFrames{},
		api:    &fakeAPI{},
		sender: &fakeSender{ok: true},
	}
	h.store = state.New(core.PlaybackState{Volume: 0.8}, nil)
	h.tracker = suppress.New(clk, suppress.DefaultTimeouts(), nil)
	h.layer = persist.NewLayer(persist.NewMemoryKV(), h.store, persist.Options{DeviceID: "dev-1", Clock: clk})
	h.coord = coord.New(coord.Options{
		Executor: func(fn func()) { fn() },
		Frames:   h.frames,
	})
	ident := identity.Resolved("p1")
	bus := events.NewBus(nil)
	h.out = audio.NewSilent(audio.SilentOptions{Clock: clk})
	h.audio = audio.NewManager(h.out, audio.Options{
		Coordinator: h.coord,
		Identity:    ident,
		Store:       h.store,
		Events:      bus,
		Clock:       clk,
	})
	h.engine = New(Options{
		Store:       h.store,
		Tracker:     h.tracker,
		Persist:     h.layer,
		Coordinator: h.coord,
		Audio:       h.audio,
		Identity:    ident,
		Events:      bus,
		API:         h.api,
		Notifier:    NotifierFunc(func(msg string) { h.notes = append(h.notes, msg) }),
		Clock:       clk,
	})
	h.engine.SetSender(h.sender)
	h.store.SetOffline(false)
	return h
}

// load pushes item from the server and waits for the switch to settle.
func (h *harness) load(t *testing.T, item string, playing bool, position float64) {
	t.Helper()
	h.store.Update(core.Patch{
		ItemID:   core.Ptr(item),
		Playing:  core.Ptr(playing),
		Position: core.Ptr(position),
	}, events.SourceServer)
	h.clk.Add(20 * time.Millisecond)
	waitFor(t, func() bool {
		return h.audio.Loaded() == item && !h.coord.Flag(coord.FlagSourceSwitchInProgress)
	})
	if playing {
		waitFor(t, h.out.Playing)
	}
}

func (h *harness) push(t *testing.T, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h.coord.EnqueueMessage(coord.Message{Type: typ, Payload: raw})
}

func TestOptimisticPatch(t *testing.T) {
	s := core.PlaybackState{Playing: true, Shuffle: core.ShuffleOff, Repeat: core.RepeatOne}

	tests := []struct {
		name   string
		cmd    core.Command
		fields []core.Field
		check  func(core.PlaybackState) bool
	}{
		{"toggle", core.Command{Action: core.ActionPlayPause}, []core.Field{core.FieldPlaying},
			func(n core.PlaybackState) bool { return !n.Playing }},
		{"pause", core.Command{Action: core.ActionPause}, []core.Field{core.FieldPlaying},
			func(n core.PlaybackState) bool { return !n.Playing }},
		{"seek", core.Command{Action: core.ActionSeek, Value: 42}, []core.Field{core.FieldPosition},
			func(n core.PlaybackState) bool { return n.Position == 42 }},
		{"volume", core.Command{Action: core.ActionVolume, Value: 0.3}, []core.Field{core.FieldVolume},
			func(n core.PlaybackState) bool { return n.Volume == 0.3 }},
		{"shuffle", core.Command{Action: core.ActionShuffleCycle}, []core.Field{core.FieldShuffle},
			func(n core.PlaybackState) bool { return n.Shuffle == core.ShuffleOn }},
		{"repeat", core.Command{Action: core.ActionRepeatCycle}, []core.Field{core.FieldRepeat},
			func(n core.PlaybackState) bool { return n.Repeat == core.RepeatOff }},
		{"next", core.Command{Action: core.ActionNext}, nil,
			func(core.PlaybackState) bool { return true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := optimisticPatch(tt.cmd, s)
			if err != nil {
				t.Fatalf("optimisticPatch() error = %v", err)
			}
			got := p.Fields()
			if len(got) != len(tt.fields) || (len(got) > 0 && got[0] != tt.fields[0]) {
				t.Errorf("fields = %v, want %v", got, tt.fields)
			}
			next := s.Clone()
			p.ApplyTo(&next)
			if !tt.check(next) {
				t.Errorf("unexpected state %+v", next)
			}
		})
	}

	if _, err := optimisticPatch(core.Command{Action: "rewind"}, s); err == nil {
		t.Error("unknown action accepted")
	}
}

func TestOptimisticSeekIsClamped(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		value    float64
		want     float64
	}{
		{"past the end", 200, 9999, 200},
		{"before the start", 200, -5, 0},
		{"unknown duration", 0, 9999, 9999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := optimisticPatch(core.Command{Action: core.ActionSeek, Value: tt.value}, core.PlaybackState{Duration: tt.duration})
			if err != nil {
				t.Fatal(err)
			}
			if p.Position == nil || *p.Position != tt.want {
				t.Errorf("position = %v, want %v", p.Position, tt.want)
			}
		})
	}
}

func TestRequestCommandOnline(t *testing.T) {
	h := newHarness(t)
	h.load(t, "a", true, 0)

	if err := h.engine.RequestCommand(core.Command{Action: core.ActionPlayPause}); err != nil {
		t.Fatal(err)
	}

	if h.store.Snapshot().Playing {
		t.Error("playing not flipped optimistically")
	}
	if h.out.Playing() {
		t.Error("output still playing after pause")
	}
	if !h.tracker.Active(core.ActionPlayPause) {
		t.Error("action not recorded")
	}
	frames := h.sender.sent()
	if len(frames) != 1 || frames[0].Type != transport.TypeCommand {
		t.Fatalf("sent = %+v, want one command", frames)
	}
	if p := frames[0].Payload; p.Action != core.ActionPlayPause || p.Seq != 1 || p.DeviceID != "dev-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestOfflinePauseScenario(t *testing.T) {
	h := newHarness(t)
	h.load(t, "a", true, 12)
	h.store.SetOffline(true)

	if err := h.engine.RequestCommand(core.Command{Action: core.ActionPause}); err != nil {
		t.Fatal(err)
	}

	// Same call: store, output and snapshot are all settled.
	if h.store.Snapshot().Playing {
		t.Error("playing still true")
	}
	if h.out.Playing() {
		t.Error("output not paused")
	}
	snap, ok := h.layer.Peek().Get()
	if !ok {
		t.Fatal("no snapshot written")
	}
	if snap.Playing || !snap.SavedWhileOffline {
		t.Errorf("snapshot = %+v, want paused and saved offline", snap)
	}
	if snap.Position == nil || *snap.Position != 12 {
		t.Errorf("snapshot position = %v, want 12", snap.Position)
	}
	if n := len(h.sender.sent()); n != 0 {
		t.Errorf("sent %d frames while offline", n)
	}
}

func TestGoingOfflineSavesLivePosition(t *testing.T) {
	h := newHarness(t)
	h.load(t, "a", false, 33)
	h.layer.Clear()

	h.store.SetOffline(true)

	snap, ok := h.layer.Peek().Get()
	if !ok {
		t.Fatal("no snapshot written on going offline")
	}
	if snap.Position == nil || *snap.Position != 33 || !snap.SavedWhileOffline {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSuppressedEcho(t *testing.T) {
	h := newHarness(t)
	h.load(t, "a", true, 0)

	h.engine.RequestCommand(core.Command{Action: core.ActionPlayPause})
	h.clk.Add(time.Second)

	// The server echoes the pre-toggle state together with a new item.
	h.push(t, transport.TypeState, map[string]any{
		"currentItemId": "b",
		"playing":       true,
		"timestamp":     1,
	})

	st := h.store.Snapshot()
	if st.Playing {
		t.Error("echo overwrote the local toggle")
	}
	if st.ItemID != "b" {
		t.Errorf("ItemID = %q, want b", st.ItemID)
	}

	// Outside the window the server wins again.
	h.clk.Add(3 * time.Second)
	h.push(t, transport.TypeState, map[string]any{"playing": true, "timestamp": 2})
	if !h.store.Snapshot().Playing {
		t.Error("push after the window was suppressed")
	}
}

func TestStateDebounce(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	h.store.Subscribe(rec.handle)

	h.push(t, transport.TypeState, map[string]any{"title": "one"})
	h.clk.Add(100 * time.Millisecond)
	h.push(t, transport.TypeState, map[string]any{"title": "two"})

	if got := rec.stateChanges(events.SourceServer); got != 1 {
		t.Errorf("server mutations = %d, want 1", got)
	}
	if title := h.store.Snapshot().Title; title != "one" {
		t.Errorf("Title = %q, want one", title)
	}

	h.clk.Add(500 * time.Millisecond)
	h.push(t, transport.TypeState, map[string]any{"title": "three"})
	if title := h.store.Snapshot().Title; title != "three" {
		t.Errorf("Title = %q, want three", title)
	}
}

func TestMalformedStateDoesNotConsumeDebounce(t *testing.T) {
	h := newHarness(t)
	h.coord.EnqueueMessage(coord.Message{Type: transport.TypeState, Payload: json.RawMessage(`"nope"`)})
	h.push(t, transport.TypeState, map[string]any{"title": "ok"})
	if title := h.store.Snapshot().Title; title != "ok" {
		t.Errorf("Title = %q, want ok", title)
	}
}

func TestDraggingBlocksServerPosition(t *testing.T) {
	h := newHarness(t)
	h.store.Update(core.Patch{Position: core.Ptr(10.0)}, events.SourceUser)
	h.engine.SetDragging(core.FieldPosition, true)

	h.push(t, transport.TypeState, map[string]any{"positionSeconds": 50, "volume": 0.1})

	st := h.store.Snapshot()
	if st.Position != 10 {
		t.Errorf("Position = %v, want 10 while dragging", st.Position)
	}
	if st.Volume != 0.1 {
		t.Errorf("Volume = %v, want 0.1", st.Volume)
	}
}

func TestQueueMessage(t *testing.T) {
	h := newHarness(t)
	h.push(t, transport.TypeQueue, transport.QueuePayload{Items: []string{"a", "b"}})
	if q := h.store.Snapshot().Queue; len(q) != 2 || q[1] != "b" {
		t.Errorf("Queue = %v", q)
	}
}

func TestCommandRejectedRollsBack(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	h.engine.Events().Subscribe(rec.handle)

	h.engine.RequestCommand(core.Command{Action: core.ActionVolume, Value: 0.2})
	if v := h.store.Snapshot().Volume; v != 0.2 {
		t.Fatalf("Volume = %v, want 0.2", v)
	}

	h.push(t, transport.TypeCommandResult, transport.CommandResult{Seq: 1, OK: false, Error: "busy"})

	if v := h.store.Snapshot().Volume; v != 0.8 {
		t.Errorf("Volume = %v, want rollback to 0.8", v)
	}
	failures := rec.commandFailures()
	if len(failures) != 1 || failures[0].Action != core.ActionVolume || failures[0].Reason != "busy" {
		t.Errorf("CommandFailed = %+v", failures)
	}
	if len(h.notes) != 1 {
		t.Errorf("notifications = %v", h.notes)
	}

	// An accepted command leaves the optimistic change alone.
	h.engine.RequestCommand(core.Command{Action: core.ActionVolume, Value: 0.4})
	h.push(t, transport.TypeCommandResult, transport.CommandResult{Seq: 2, OK: true})
	if v := h.store.Snapshot().Volume; v != 0.4 {
		t.Errorf("Volume = %v, want 0.4", v)
	}
	if acks := rec.acks(); len(acks) != 1 || acks[0].Seq != 2 || acks[0].Action != core.ActionVolume {
		t.Errorf("CommandAcknowledged = %+v", acks)
	}
}

func TestUnsentCommandHasNoRollback(t *testing.T) {
	h := newHarness(t)
	h.sender.ok = false
	h.engine.RequestCommand(core.Command{Action: core.ActionVolume, Value: 0.5})
	h.push(t, transport.TypeCommandResult, transport.CommandResult{Seq: 1, OK: false})
	if v := h.store.Snapshot().Volume; v != 0.5 {
		t.Errorf("Volume = %v, want 0.5", v)
	}
}

func TestResyncPrefersNewerSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		remoteTS func(local int64) int64
		wantItem string
		wantSrc  events.Source
	}{
		{"local newer", func(local int64) int64 { return local - 50 }, "local", events.SourceRestore},
		{"server newer", func(local int64) int64 { return local + 50 }, "remote", events.SourceResync},
		{"tie goes to server", func(local int64) int64 { return local }, "remote", events.SourceResync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.Update(core.Patch{ItemID: core.Ptr("local"), Title: core.Ptr("Mine")}, events.SourceUser)
			h.layer.Save(persist.SaveOptions{})
			local := h.clk.Now().UnixMilli()

			h.api.state = transport.ServerState{
				ItemID:          core.Ptr("remote"),
				Title:           core.Ptr("Theirs"),
				TimestampMillis: tt.remoteTS(local),
			}
			h.store.Update(core.Patch{ItemID: core.Ptr("stale")}, events.SourceServer)

			rec := &recorder{}
			h.store.Subscribe(rec.handle)
			if err := h.engine.Resync(context.Background()); err != nil {
				t.Fatalf("Resync() error = %v", err)
			}

			if got := h.store.Snapshot().ItemID; got != tt.wantItem {
				t.Errorf("ItemID = %q, want %q", got, tt.wantItem)
			}
			if rec.stateChanges(tt.wantSrc) != 1 {
				t.Errorf("no replace tagged %s", tt.wantSrc)
			}
			if v := h.store.Snapshot().Volume; v != 0.8 {
				t.Errorf("Volume = %v, want 0.8 preserved", v)
			}
		})
	}
}

func TestResyncFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.store.Update(core.Patch{Title: core.Ptr("kept")}, events.SourceUser)
	h.api.err = errors.New("boom")

	if err := h.engine.Resync(context.Background()); err == nil {
		t.Error("Resync() swallowed the fetch error")
	}
	if title := h.store.Snapshot().Title; title != "kept" {
		t.Errorf("Title = %q", title)
	}
}

func TestStartRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	h.store.Update(core.Patch{Title: core.Ptr("before"), Volume: core.Ptr(0.4)}, events.SourceUser)

	h.store.Replace(core.Patch{Volume: core.Ptr(1.0)}, events.SourceServer)
	if !h.engine.Start() {
		t.Fatal("Start() restored nothing")
	}
	st := h.store.Snapshot()
	if st.Title != "before" || st.Volume != 0.4 {
		t.Errorf("restored %+v", st)
	}
}

func TestReplaceMirrorsVolumeWithItem(t *testing.T) {
	h := newHarness(t)

	h.store.Replace(core.Patch{ItemID: core.Ptr("a"), Volume: core.Ptr(0.3)}, events.SourceRestore)
	h.clk.Add(20 * time.Millisecond)
	waitFor(t, func() bool { return h.audio.Loaded() == "a" })

	if got := h.out.Volume(); got != 0.3 {
		t.Errorf("output volume = %v, store volume = %v", got, h.store.Snapshot().Volume)
	}
}

func TestStartIgnoresStaleSnapshot(t *testing.T) {
	h := newHarness(t)
	h.store.Update(core.Patch{Title: core.Ptr("before")}, events.SourceUser)
	h.clk.Add(31 * time.Second)

	if h.engine.Start() {
		t.Error("Start() restored a stale snapshot")
	}
	if title := h.store.Snapshot().Title; title != "before" {
		t.Errorf("Title = %q", title)
	}
}

func TestSaveThrottle(t *testing.T) {
	h := newHarness(t)
	volume := func() float64 {
		snap, ok := h.layer.Peek().Get()
		if !ok {
			return -1
		}
		return snap.Volume
	}

	h.engine.RequestCommand(core.Command{Action: core.ActionVolume, Value: 0.1})
	if v := volume(); v != 0.1 {
		t.Fatalf("first save volume = %v, want 0.1", v)
	}

	h.clk.Add(time.Second)
	h.engine.RequestCommand(core.Command{Action: core.ActionVolume, Value: 0.2})
	if v := volume(); v != 0.1 {
		t.Errorf("saved again inside the throttle (volume %v)", v)
	}

	h.clk.Add(4 * time.Second)
	waitFor(t, func() bool { return volume() == 0.2 })

	snap, _ := h.layer.Peek().Get()
	if snap.Position != nil {
		t.Error("online save kept the position")
	}
}

func TestTimeUpdatesFollowOutput(t *testing.T) {
	h := newHarness(t)
	h.load(t, "a", true, 0)

	h.clk.Add(250 * time.Millisecond)
	waitFor(t, func() bool { return h.store.Snapshot().Position == 0.25 })

	h.engine.SetDragging(core.FieldPosition, true)
	h.clk.Add(250 * time.Millisecond)
	waitFor(t, func() bool { return h.out.CurrentTime() == 0.5 })
	time.Sleep(10 * time.Millisecond)
	if pos := h.store.Snapshot().Position; pos != 0.25 {
		t.Errorf("Position = %v, want 0.25 while dragging", pos)
	}
}

func TestEndedAdvances(t *testing.T) {
	t.Run("repeat one restarts locally", func(t *testing.T) {
		h := newHarness(t)
		h.store.Update(core.Patch{Repeat: core.Ptr(core.RepeatOne)}, events.SourceServer)

		h.store.Update(core.Patch{Position: core.Ptr(100.0)}, events.SourceAudio)
		h.engine.onOutputEvent(audio.Event{Kind: audio.EventEnded})

		if pos := h.store.Snapshot().Position; pos != 0 {
			t.Errorf("Position = %v, want 0", pos)
		}
		if n := len(h.sender.sent()); n != 0 {
			t.Errorf("sent %d frames on repeat-one", n)
		}
	})

	t.Run("otherwise asks for the next item", func(t *testing.T) {
		h := newHarness(t)
		h.engine.onOutputEvent(audio.Event{Kind: audio.EventEnded})

		frames := h.sender.sent()
		if len(frames) != 1 || frames[0].Payload.Action != core.ActionNext {
			t.Errorf("sent = %+v, want next", frames)
		}
	})

	t.Run("offline end stops playback", func(t *testing.T) {
		h := newHarness(t)
		h.store.Update(core.Patch{Playing: core.Ptr(true)}, events.SourceServer)
		h.store.SetOffline(true)
		h.engine.onOutputEvent(audio.Event{Kind: audio.EventEnded})

		if h.store.Snapshot().Playing {
			t.Error("still playing after the last item ended offline")
		}
	})
}

func TestSubscribeUsesRenderQueue(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	unsub := h.engine.Subscribe(rec.handle)

	h.store.Update(core.Patch{Title: core.Ptr("x")}, events.SourceServer)
	if rec.stateChanges(events.SourceServer) != 0 {
		t.Fatal("event delivered before the frame")
	}

	// StateChanged then FieldChanged, one per frame.
	h.frames.frame()
	if rec.stateChanges(events.SourceServer) != 1 {
		t.Fatal("StateChanged not delivered on the first frame")
	}
	rec.mu.Lock()
	delivered := len(rec.evs)
	rec.mu.Unlock()
	if delivered != 1 {
		t.Errorf("delivered %d events in one frame, want 1", delivered)
	}
	h.frames.frame()

	unsub()
	h.store.Update(core.Patch{Title: core.Ptr("y")}, events.SourceServer)
	h.frames.frame()
	if rec.stateChanges(events.SourceServer) != 1 {
		t.Error("delivered after unsubscribe")
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	h := newHarness(t)
	before := h.store.Snapshot()
	h.push(t, "lyrics", map[string]any{"text": "la"})
	if !h.store.Snapshot().Equal(before) {
		t.Error("unknown message changed the state")
	}
}
