package events

import (
	"log/slog"
	"reflect"
	"sync"
)

// Listener receives change notifications of type T.
//
// Listeners are compared by identity, so implementations must be comparable;
// pointer receivers are the usual choice. Use NewFunc to register a plain
// function and keep the returned handle for Remove.
type Listener[T any] interface {
	Changed(T)
}

// Func adapts an ordinary function to a Listener. The *Func handle is the
// listener's identity.
type Func[T any] struct {
	fn func(T)
}

// NewFunc wraps fn in a listener handle.
func NewFunc[T any](fn func(T)) *Func[T] {
	return &Func[T]{fn: fn}
}

// Changed calls the wrapped function.
func (f *Func[T]) Changed(v T) { f.fn(v) }

// Registry is an ordered set of listeners. The zero value is ready to use
// and all methods are safe for concurrent use.
//
// Notify iterates over a snapshot taken when it starts: listeners added or
// removed by a callback take effect from the next Notify on.
type Registry[T any] struct {
	mu        sync.Mutex
	listeners []Listener[T]
}

// Add registers l. Adding a listener that is already registered is a no-op
// and returns false. Listeners of a non-comparable dynamic type are rejected
// and logged.
func (r *Registry[T]) Add(l Listener[T]) bool {
	if !isComparable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.listeners {
		if x == l {
			return false
		}
	}
	r.listeners = append(r.listeners, l)
	return true
}

// Remove deregisters l. Removing an unknown listener is a no-op and
// returns false.
func (r *Registry[T]) Remove(l Listener[T]) bool {
	if !isComparable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			// copy-on-write: a Notify in progress keeps its own slice
			next := make([]Listener[T], 0, len(r.listeners)-1)
			next = append(next, r.listeners[:i]...)
			r.listeners = append(next, r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func isComparable[T any](l Listener[T]) bool {
	if l == nil {
		return false
	}
	if v := reflect.ValueOf(l); !v.Comparable() {
		slog.Error("events: listener is not comparable, use a pointer or NewFunc", "type", v.Type().String())
		return false
	}
	return true
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Notify calls every registered listener with v, in registration order.
// A listener that panics is logged and skipped; the rest still run.
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	snapshot := r.listeners[:len(r.listeners):len(r.listeners)]
	r.mu.Unlock()

	for _, l := range snapshot {
		call(l, v)
	}
}

func call[T any](l Listener[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("events: listener panicked", "panic", p)
		}
	}()
	l.Changed(v)
}
