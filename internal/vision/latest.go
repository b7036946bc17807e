package vision

import "sync"

// Latest is a latest-value container. Store replaces the value and offers it
// to every subscriber through a single-slot mailbox; an unread value is
// overwritten, so slow subscribers see only the newest one.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]chan T
}

// NewLatest creates a container holding initial.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{value: initial, subs: make(map[int]chan T)}
}

// Load returns the current value.
func (l *Latest[T]) Load() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Store sets the value and notifies subscribers without blocking.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	for _, ch := range l.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that receives the current value immediately and
// every later one, plus a cancel func that closes the channel.
func (l *Latest[T]) Subscribe() (<-chan T, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	ch := make(chan T, 1)
	ch <- l.value
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs, id)
			close(ch)
		})
	}
}

// offer overwrites the single slot. Callers hold l.mu, so there is one sender.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
