package ws

import "sync"

type subscription[T any] struct {
	id int
	fn func(T)
}

// listeners is a subscriber list. Callbacks run outside the lock, in registration order.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscription[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, subscription[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	subs := make([]subscription[T], len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}
