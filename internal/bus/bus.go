package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus: closed")

// Bus fans telemetry records out to every subscriber. Past records are not
// replayed. Publish blocks until each subscriber has room, so a slow consumer
// slows the producer instead of losing records.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan *sensors.Record
	closed      bool
	buffer      int
}

// New creates a Bus whose subscriber channels hold up to buffer records.
func New(buffer int) *Bus {
	if buffer < 0 {
		buffer = 0
	}
	return &Bus{buffer: buffer}
}

// Subscribe returns a channel that receives all future records. It is closed
// by Close. Subscribing to a closed bus returns a closed channel.
func (b *Bus) Subscribe() <-chan *sensors.Record {
	ch := make(chan *sensors.Record, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers r to every subscriber, waiting for room or for ctx to end.
func (b *Bus) Publish(ctx context.Context, r *sensors.Record) error {
	// Holding the read lock keeps Close from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes every subscriber channel. Further publishes fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
