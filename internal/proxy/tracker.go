package proxy

import (
	"io"
	"sync"

	"github.com/die-net/tetherproxy/internal/metrics"
)

// SocketTracker remembers every socket the proxy opened so a shutdown can
// close the ones sessions have not closed yet.
type SocketTracker struct {
	mu      sync.Mutex
	next    uint64
	sockets map[uint64]io.Closer
}

func NewSocketTracker() *SocketTracker {
	return &SocketTracker{sockets: make(map[uint64]io.Closer)}
}

// Track adds c. The returned func removes it again without closing it and is
// safe to call more than once.
func (t *SocketTracker) Track(c io.Closer) (untrack func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.sockets[id] = c
	t.mu.Unlock()
	metrics.TrackedSockets.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			_, ok := t.sockets[id]
			delete(t.sockets, id)
			t.mu.Unlock()
			if ok {
				metrics.TrackedSockets.Dec()
			}
		})
	}
}

// CloseAll closes and forgets every tracked socket.
func (t *SocketTracker) CloseAll() {
	t.mu.Lock()
	sockets := t.sockets
	t.sockets = make(map[uint64]io.Closer)
	t.mu.Unlock()

	for _, c := range sockets {
		_ = c.Close()
	}
	metrics.TrackedSockets.Sub(float64(len(sockets)))
}

// Len returns the number of tracked sockets.
func (t *SocketTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}
