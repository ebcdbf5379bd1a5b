// Package state holds the canonical in-memory playback state. Store.Update
// and Store.Replace are the only ways to mutate it.
package state

import (
	"math"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/logging"
)

// preserved lists the fields Replace keeps from the outgoing state when
// the incoming state omits them.
var preserved = []core.Field{core.FieldVolume}

// Store owns the PlaybackState and notifies subscribers of effective
// changes. Events reach listeners in commit order: whichever writer finds
// the outbox idle delivers it, including batches queued meanwhile by
// other writers or by listeners themselves.
type Store struct {
	mu         sync.Mutex
	state      core.PlaybackState
	offline    bool
	outbox     [][]events.Event
	publishing bool

	bus *events.Bus
	log *logrus.Entry
}

// New creates a store seeded with initial.
func New(initial core.PlaybackState, log logrus.FieldLogger) *Store {
	return &Store{
		state: normalize(initial.Clone()),
		bus:   events.NewBus(log),
		log:   logging.Component(log, "store"),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() core.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers a listener for StateChanged, FieldChanged and
// OfflineChanged events.
func (s *Store) Subscribe(h events.Handler) (unsubscribe func()) {
	return s.bus.Subscribe(h)
}

// Update merges the keys present in p. Listeners are notified only when at
// least one value actually changed.
func (s *Store) Update(p core.Patch, source events.Source) {
	s.mu.Lock()
	next := s.state.Clone()
	p.ApplyTo(&next)
	next = normalize(next)
	changes := s.commitLocked(next, p.Fields(), source)
	s.enqueueLocked(s.changeEvents(changes, next, source))
	s.mu.Unlock()

	s.flush()
}

// Replace installs a full state built from p. Absent keys reset to their
// zero value, except preserved fields which keep their outgoing value.
func (s *Store) Replace(p core.Patch, source events.Source) {
	s.mu.Lock()
	var next core.PlaybackState
	p.ApplyTo(&next)
	for _, f := range preserved {
		if !p.Has(f) {
			core.FullPatch(s.state).Only(f).ApplyTo(&next)
		}
	}
	next = normalize(next)
	if next.Equal(s.state) {
		s.mu.Unlock()
		return
	}
	changes := s.commitLocked(next, core.AllFields, source)
	s.enqueueLocked(s.changeEvents(changes, next, source))
	s.mu.Unlock()

	s.flush()
}

// Offline reports whether the push channel is currently down.
func (s *Store) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// SetOffline flips the connectivity flag and notifies on transitions.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	changed := s.offline != offline
	s.offline = offline
	if changed {
		s.enqueueLocked([]events.Event{events.OfflineChanged{Offline: offline}})
	}
	s.mu.Unlock()

	if changed {
		s.log.WithField("offline", offline).Debug("connectivity changed")
	}
	s.flush()
}

// commitLocked diffs candidate keys, installs next and returns the changes.
func (s *Store) commitLocked(next core.PlaybackState, keys []core.Field, source events.Source) []events.FieldChange {
	var changes []events.FieldChange
	for _, f := range keys {
		if s.state.FieldEqual(next, f) {
			continue
		}
		changes = append(changes, events.FieldChange{
			Field:  f,
			Old:    s.state.Get(f),
			New:    next.Get(f),
			Source: source,
		})
	}
	if len(changes) > 0 {
		s.state = next
	}
	return changes
}

// changeEvents builds the events announcing one commit.
func (s *Store) changeEvents(changes []events.FieldChange, next core.PlaybackState, source events.Source) []events.Event {
	if len(changes) == 0 {
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"source": source,
		"fields": len(changes),
	}).Trace("state changed")

	evs := make([]events.Event, 0, len(changes)+1)
	evs = append(evs, events.StateChanged{Changes: changes, Source: source, State: next.Clone()})
	for _, c := range changes {
		evs = append(evs, events.FieldChanged{FieldChange: c})
	}
	return evs
}

func (s *Store) enqueueLocked(evs []events.Event) {
	if len(evs) > 0 {
		s.outbox = append(s.outbox, evs)
	}
}

// flush delivers queued batches unless another goroutine, or an outer
// frame of this one, is already doing so.
func (s *Store) flush() {
	s.mu.Lock()
	if s.publishing {
		s.mu.Unlock()
		return
	}
	s.publishing = true
	for len(s.outbox) > 0 {
		batch := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		for _, e := range batch {
			s.bus.Publish(e)
		}

		s.mu.Lock()
	}
	s.publishing = false
	s.mu.Unlock()
}

func normalize(st core.PlaybackState) core.PlaybackState {
	st.Position = math.Max(st.Position, 0)
	st.Duration = math.Max(st.Duration, 0)
	st.Volume = lo.Clamp(st.Volume, 0, 1)
	if st.Shuffle == "" {
		st.Shuffle = core.ShuffleOff
	}
	if st.Repeat == "" {
		st.Repeat = core.RepeatOff
	}
	return st
}
