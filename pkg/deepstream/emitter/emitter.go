// Package emitter is a small keyed callback registry. It is not safe for
// concurrent use; in this module every emitter lives on the event loop.
package emitter

// Handle identifies a registered callback.
type Handle uint64

type listener[T any] struct {
	handle Handle
	fn     func(T)
}

// Emitter maps keys to ordered callback lists.
type Emitter[K comparable, T any] struct {
	listeners map[K][]listener[T]
	last      Handle
}

// New returns an empty Emitter.
func New[K comparable, T any]() *Emitter[K, T] {
	return &Emitter[K, T]{listeners: make(map[K][]listener[T])}
}

// On registers fn for key. Callbacks run in registration order.
func (e *Emitter[K, T]) On(key K, fn func(T)) Handle {
	e.last++
	e.listeners[key] = append(e.listeners[key], listener[T]{handle: e.last, fn: fn})
	return e.last
}

// Off removes the callback registered under h. It reports whether anything
// was removed.
func (e *Emitter[K, T]) Off(key K, h Handle) bool {
	ls := e.listeners[key]
	for i, l := range ls {
		if l.handle == h {
			next := make([]listener[T], 0, len(ls)-1)
			next = append(next, ls[:i]...)
			next = append(next, ls[i+1:]...)
			if len(next) == 0 {
				delete(e.listeners, key)
			} else {
				e.listeners[key] = next
			}
			return true
		}
	}
	return false
}

// Emit calls every callback registered for key with v. Callbacks added or
// removed during Emit take effect from the next Emit.
func (e *Emitter[K, T]) Emit(key K, v T) {
	for _, l := range e.listeners[key] {
		l.fn(v)
	}
}

// Count returns how many callbacks are registered for key.
func (e *Emitter[K, T]) Count(key K) int {
	return len(e.listeners[key])
}

// Keys returns every key with at least one callback.
func (e *Emitter[K, T]) Keys() []K {
	keys := make([]K, 0, len(e.listeners))
	for k := range e.listeners {
		keys = append(keys, k)
	}
	return keys
}
