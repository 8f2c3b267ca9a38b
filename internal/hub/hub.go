// Package hub keeps the bounded shared chat history and fans each new
// message out to every connected subscriber.
package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/you/chatdeck/internal/core"
)

const defaultSubscriberBuffer = 256

// ErrDropped is returned by Serve when the hub evicted a subscriber that
// could not keep up.
var ErrDropped = errors.New("hub: subscriber dropped")

type Options struct {
	Capacity         int
	SubscriberBuffer int
}

type Stats struct {
	Subscribers int   `json:"subscribers"`
	History     int   `json:"history"`
	Capacity    int   `json:"capacity"`
	Appended    int64 `json:"appended"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// Hub is safe for concurrent use. All mutations of the history and the
// subscriber set happen under one mutex.
type Hub struct {
	mu      sync.Mutex
	history *ring
	subs    map[*Subscription]struct{}
	bufSize int
	closed  bool

	appended  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

func New(opts Options) *Hub {
	buf := opts.SubscriberBuffer
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	return &Hub{
		history: newRing(core.ClampHistory(opts.Capacity)),
		subs:    make(map[*Subscription]struct{}),
		bufSize: buf,
	}
}

type Subscription struct {
	ID      string
	events  chan Event
	dropped atomic.Bool
}

// Events yields the history batch first, then live messages. The channel is
// closed on Unsubscribe, on hub Close, or when the subscriber falls behind.
func (s *Subscription) Events() <-chan Event { return s.events }

// Dropped reports whether the hub evicted this subscriber for being slow.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Append records msg and pushes it to every subscriber without blocking.
func (h *Hub) Append(msg core.ChatMessage) {
	msg = msg.Clone()
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.push(msg)
	h.appended.Add(1)

	ev := Event{Type: EventMessage, Message: msg}
	for sub := range h.subs {
		select {
		case sub.events <- ev:
			h.delivered.Add(1)
		default:
			sub.dropped.Store(true)
			h.removeLocked(sub)
			h.dropped.Add(1)
			log.Printf("hub: dropped slow subscriber %s", sub.ID)
		}
	}
}

// Subscribe registers a subscriber and queues the current history as its
// first event. Both happen under the append lock, so nothing appended
// concurrently is missed or repeated.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan Event, h.bufSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.events)
		return sub
	}
	sub.events <- Event{Type: EventHistory, History: h.history.last(0)}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.events)
}

// Recent returns the newest limit messages, oldest first. limit <= 0 returns
// the whole buffer.
func (h *Hub) Recent(limit int) []core.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.last(limit)
}

// SetCapacity resizes the history, evicting the oldest entries if it shrinks.
func (h *Hub) SetCapacity(n int) {
	n = core.ClampHistory(n)
	h.mu.Lock()
	defer h.mu.Unlock()
	if n != h.history.capacity() {
		h.history.resize(n)
		log.Printf("hub: history capacity=%d", n)
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	subs, size, capacity := len(h.subs), h.history.size, h.history.capacity()
	h.mu.Unlock()
	return Stats{
		Subscribers: subs,
		History:     size,
		Capacity:    capacity,
		Appended:    h.appended.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close disconnects every subscriber. History stays readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

// Transport is one connected display client.
type Transport interface {
	Send(ctx context.Context, ev Event) error
	Close() error
	// Done is closed when the client goes away.
	Done() <-chan struct{}
}

// Serve subscribes t and pumps events into it until ctx ends, the client
// disconnects, a send fails, or the hub drops the subscriber.
func (h *Hub) Serve(ctx context.Context, t Transport) error {
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	defer t.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Dropped() {
					return ErrDropped
				}
				return nil
			}
			if err := t.Send(ctx, ev); err != nil {
				return err
			}
		}
	}
}
