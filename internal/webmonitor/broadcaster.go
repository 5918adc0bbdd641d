package webmonitor

import (
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/uvc-facecam/internal/logger"
)

// Broadcaster fans values out to subscribed clients. Slow clients miss
// values instead of blocking the producer.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	buffer  int
	gauge   *atomic.Int64 // optional client gauge
	log     *logger.Module
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose client channels hold buffer values.
func NewBroadcaster[T any](name string, buffer int, gauge *atomic.Int64) *Broadcaster[T] {
	return &Broadcaster[T]{
		clients: make(map[int]chan T),
		buffer:  buffer,
		gauge:   gauge,
		log:     logger.For(name),
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
func (b *Broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.buffer)
	b.clients[id] = ch
	if b.gauge != nil {
		b.gauge.Add(1)
	}

	b.log.Debug("Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.gauge != nil {
			b.gauge.Add(-1)
		}
		b.log.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Count returns the number of subscribed clients.
func (b *Broadcaster[T]) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends v to every client without blocking.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- v:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// CloseAll disconnects every client.
func (b *Broadcaster[T]) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
		if b.gauge != nil {
			b.gauge.Add(-1)
		}
	}
}

// BroadcastStats is the counter snapshot of a broadcaster.
type BroadcastStats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns the broadcaster counters.
func (b *Broadcaster[T]) Stats() BroadcastStats {
	return BroadcastStats{Clients: b.Count(), Sent: b.sent.Load(), Dropped: b.dropped.Load()}
}
