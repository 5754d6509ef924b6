// Package memory buffers intercepted traffic between the browser session and
// the pipeline.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of traffic events.
type Queue struct {
	ch      chan monitor.TrafficEvent
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan monitor.TrafficEvent, capacity)}
}

// Enqueue pushes an event or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, ev monitor.TrafficEvent) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- ev:
		return nil
	}
}

// TryEnqueue pushes an event without blocking and reports whether it fit.
func (q *Queue) TryEnqueue(ev monitor.TrafficEvent) bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Dequeue pops the next event, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.TrafficEvent, error) {
	select {
	case <-ctx.Done():
		return monitor.TrafficEvent{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case ev, ok := <-q.ch:
		if !ok {
			return monitor.TrafficEvent{}, ErrClosed
		}
		return ev, nil
	}
}

// Drain returns every event currently buffered without blocking.
func (q *Queue) Drain() []monitor.TrafficEvent {
	var out []monitor.TrafficEvent
	for {
		select {
		case ev, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Events exposes the receive side for consumers that range over traffic.
func (q *Queue) Events() <-chan monitor.TrafficEvent {
	return q.ch
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
