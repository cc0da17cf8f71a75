package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"leaderwatch/core"
)

// Filter selects which events a subscription receives. A nil Filter accepts
// everything.
type Filter func(core.Event) bool

// ForUser accepts events where user is the actor or the overtaken target.
func ForUser(user core.UserID) Filter {
	if user == "" {
		return nil
	}
	return func(ev core.Event) bool { return ev.UserID == user || ev.TargetID == user }
}

// Subscription is one live consumer of hub events.
type Subscription struct {
	hub     *Hub
	id      int
	ch      chan core.Event
	filter  Filter
	dropped atomic.Uint64
}

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan core.Event { return s.ch }

// Dropped counts events skipped because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Close() { s.hub.remove(s.id) }

// Hub fans leaderboard events out to live subscribers. Slow subscribers lose
// events rather than block the listener.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]*Subscription{}} }

func (h *Hub) Subscribe(buffer int, filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{hub: h, id: h.next, ch: make(chan core.Event, buffer), filter: filter}
	h.subs[s.id] = s
	return s
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast matches its signature to engine.EventBus handlers. The read lock
// is held for the whole fan-out so a channel is never closed mid-send.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Encode renders an event as a websocket text frame.
func Encode(ev core.Event) ([]byte, error) { return json.Marshal(ev) }
