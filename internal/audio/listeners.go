package audio

import "sync"

// Listeners is a subscriber list for primitive events. Handlers may
// unsubscribe from inside a callback.
type Listeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Event)
	order  []int
}

// NewListeners creates an empty list.
func NewListeners() *Listeners {
	return &Listeners{fns: make(map[int]func(Event))}
}

// Add registers fn and returns its unsubscribe function.
func (l *Listeners) Add(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.fns[id] = fn
	l.order = append(l.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

// Emit delivers ev to every registered handler in registration order.
func (l *Listeners) Emit(ev Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.fns))
	live := l.order[:0]
	for _, id := range l.order {
		if fn, ok := l.fns[id]; ok {
			fns = append(fns, fn)
			live = append(live, id)
		}
	}
	l.order = live
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
