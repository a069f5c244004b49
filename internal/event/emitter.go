// Package event provides a small typed observer used by channels, workers
// and pools to publish lifecycle events.
package event

import "sync"

// Emitter delivers events of type E to subscribers in subscription order.
//
// Emit runs subscribers synchronously on the caller's goroutine. Callers must
// not hold their own locks while emitting.
type Emitter[E any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription[E]
}

type subscription[E any] struct {
	id uint64
	fn func(E)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (e *Emitter[E]) Subscribe(fn func(E)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	id := e.next
	e.subs = append(e.subs, subscription[E]{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)

				return
			}
		}
	}
}

// Emit delivers ev to every current subscriber.
func (e *Emitter[E]) Emit(ev E) {
	e.mu.RLock()
	subs := make([]func(E), len(e.subs))

	for i, s := range e.subs {
		subs[i] = s.fn
	}

	e.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Clear removes every subscriber.
func (e *Emitter[E]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subs = nil
}
