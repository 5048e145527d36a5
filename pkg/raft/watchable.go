package raft

import "sync"

// Watchable is a change-notifying value container, grounded on
// original_source's watchable_t<state_and_config_t>: callers can read
// the current value or subscribe to a channel that receives the new
// value on every Set. Emission follows the mutation of the member's
// protected state under its mutex, so subscribers see a causally
// ordered sequence of values (spec.md §5).
type Watchable[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	nextID int
}

func NewWatchable[T any](initial T) *Watchable[T] {
	return &Watchable[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

func (w *Watchable[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.value
}

// Set must be called with the member mutex held, so that the ordering
// of Watchable emissions matches the ordering of the protected state
// transitions that produced them.
func (w *Watchable[T]) Set(value T) {
	w.mu.Lock()
	w.value = value

	subs := make([]chan T, 0, len(w.subs))
	for _, ch := range w.subs {
		subs = append(subs, ch)
	}
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- value:
		default:
			// Slow subscriber; drop rather than block the mutation
			// path. A subscriber that needs every value should drain
			// promptly or poll Get().
		}
	}
}

// Subscribe registers a buffered channel that receives every
// subsequent Set value (best-effort; see Set). The returned function
// unregisters it.
func (w *Watchable[T]) Subscribe() (<-chan T, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan T, 8)
	id := w.nextID
	w.nextID++
	w.subs[id] = ch

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		if _, found := w.subs[id]; found {
			delete(w.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}
