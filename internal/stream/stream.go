// Package stream fans stored audit events out to live subscribers.
package stream

import (
	"context"
	"sync"

	"meridian.club/internal/audit"
	"meridian.club/internal/obs"
)

const defaultBuffer = 16

type subscriber struct {
	ch     chan audit.Event
	filter audit.Query
}

// Hub delivers each published event to every subscriber whose filter
// matches. Slow subscribers lose events rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	buffer int
}

// New returns an empty hub; buffer is the per-subscriber queue length.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[int]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber for events matching filter. Pagination
// fields of filter are ignored. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, filter audit.Query) <-chan audit.Event {
	filter.Offset, filter.Limit = 0, 0
	ch := make(chan audit.Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish implements audit.Publisher.
func (h *Hub) Publish(evt audit.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			obs.ObserveAuditDropped("subscriber_slow")
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
