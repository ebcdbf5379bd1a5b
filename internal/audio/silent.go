package audio

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	encerrors "github.com/tessro/encore/internal/errors"
)

// DefaultSilentDuration is the length of every item on a Silent output
// when no duration lookup is configured.
const DefaultSilentDuration = 180.0

// SilentOptions configures a Silent output.
type SilentOptions struct {
	Clock     clock.Clock
	LoadDelay time.Duration
	Tick      time.Duration
	// Durations returns the length of the item at an address.
	Durations func(address string) float64
}

// Silent is an in-process output that plays nothing but keeps time like a
// real one. It backs headless runs.
type Silent struct {
	clock     clock.Clock
	loadDelay time.Duration
	tick      time.Duration
	durations func(string) float64
	ready     chan struct{}

	mu        sync.Mutex
	addr      string
	gen       uint64
	duration  float64
	pos       float64
	volume    float64
	playing   bool
	timer     *clock.Timer
	listeners *Listeners
}

// NewSilent creates a ready Silent output.
func NewSilent(opts SilentOptions) *Silent {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.LoadDelay <= 0 {
		opts.LoadDelay = 20 * time.Millisecond
	}
	if opts.Tick <= 0 {
		opts.Tick = 250 * time.Millisecond
	}
	if opts.Durations == nil {
		opts.Durations = func(string) float64 { return DefaultSilentDuration }
	}
	ready := make(chan struct{})
	close(ready)
	return &Silent{
		clock:     opts.Clock,
		loadDelay: opts.LoadDelay,
		tick:      opts.Tick,
		durations: opts.Durations,
		ready:     ready,
		volume:    1,
		listeners: NewListeners(),
	}
}

func (s *Silent) Ready() <-chan struct{} { return s.ready }

func (s *Silent) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Silent) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.addr = ""
	s.duration = 0
	s.pos = 0
	s.stopLocked()
}

func (s *Silent) Load(address string) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.addr = address
	s.duration = 0
	s.pos = 0
	s.stopLocked()
	s.mu.Unlock()

	s.clock.AfterFunc(s.loadDelay, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.duration = s.durations(address)
		s.mu.Unlock()

		s.listeners.Emit(Event{Kind: EventMetadataReady})
		s.listeners.Emit(Event{Kind: EventCanPlay})
	})
}

func (s *Silent) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == "" {
		return encerrors.ErrPrimitiveNotReady
	}
	if !s.playing {
		s.playing = true
		s.scheduleLocked(s.gen)
	}
	return nil
}

func (s *Silent) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Silent) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Silent) SetCurrentTime(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = max(seconds, 0)
}

func (s *Silent) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Silent) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Silent) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

// Playing reports whether the output is advancing.
func (s *Silent) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Silent) OnEvent(fn func(Event)) func() {
	return s.listeners.Add(fn)
}

func (s *Silent) stopLocked() {
	s.playing = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Silent) scheduleLocked(gen uint64) {
	s.timer = s.clock.AfterFunc(s.tick, func() { s.advance(gen) })
}

func (s *Silent) advance(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.playing {
		s.mu.Unlock()
		return
	}
	s.pos += s.tick.Seconds()
	ended := s.duration > 0 && s.pos >= s.duration
	if ended {
		s.pos = s.duration
		s.playing = false
		s.timer = nil
	} else {
		s.scheduleLocked(gen)
	}
	pos := s.pos
	s.mu.Unlock()

	s.listeners.Emit(Event{Kind: EventTimeUpdate, Time: pos})
	if ended {
		s.listeners.Emit(Event{Kind: EventEnded})
	}
}
