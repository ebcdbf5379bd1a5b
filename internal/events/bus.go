package events

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// Bus delivers events synchronously to its subscribers in subscription
// order. A failing handler is isolated and logged; it never stops delivery
// to the remaining handlers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	log    *logrus.Entry
}

// NewBus creates a bus. A nil logger discards handler failures.
func NewBus(log logrus.FieldLogger) *Bus {
	return &Bus{log: logging.Component(log, "events")}
}

// Subscribe registers h and returns a function removing it again.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("event", typeName(e)).Errorf("listener %d failed: %v", s.id, r)
		}
	}()
	s.h(e)
}

func typeName(e Event) string {
	switch e.(type) {
	case StateChanged:
		return "state_changed"
	case FieldChanged:
		return "field_changed"
	case OfflineChanged:
		return "offline_changed"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case CommandFailed:
		return "command_failed"
	case CommandAcknowledged:
		return "command_acknowledged"
	case AudioFailed:
		return "audio_failed"
	default:
		return "unknown"
	}
}
