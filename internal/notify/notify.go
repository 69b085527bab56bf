// Package notify fans state snapshots out to subscribers.
package notify

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Listeners holds subscribers of T. The zero value is ready to use.
// Emit calls subscribers in the order they were added and never under the
// owner's lock, so subscribers may call back into the owner.
type Listeners[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscriber[T]
}

// Add registers fn and returns the func that removes it
func (l *Listeners[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.next
	l.next++
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// removal reallocates so slices handed out by Emit never change
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscriber with v
func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	subs := l.subs
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len counts the subscribers
func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
