package protocol

import "sync"

// mailbox is an unbounded FIFO. put never blocks, so the producer is never
// held up by a slow consumer.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// put appends v. It reports false when the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return false
	}

	m.items = append(m.items, v)
	m.mu.Unlock()

	m.notify()

	return true
}

// close rejects further puts. Items already queued can still be taken.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.notify()
}

// next blocks for the oldest item. It returns false once the mailbox is
// closed and drained, or when stop closes.
func (m *mailbox[T]) next(stop <-chan struct{}) (T, bool) {
	var zero T

	for {
		m.mu.Lock()

		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()

			return v, true
		}

		closed := m.closed
		m.mu.Unlock()

		if closed {
			return zero, false
		}

		select {
		case <-m.signal:
		case <-stop:
			return zero, false
		}
	}
}

func (m *mailbox[T]) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// size reports the number of queued items.
func (m *mailbox[T]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}
