package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"leaderwatch/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type queued struct {
	ctx context.Context
	ev  core.Event
}

// EventBus provides thread-safe pub/sub for listener events. In async mode a
// bounded queue decouples observers (hub, webhooks, metrics) from the
// listener; when the queue is full events are dropped and counted, so a slow
// observer never delays notification delivery.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]func(context.Context, core.Event)
	nextID  int64
	queue   chan queued
	workers sync.WaitGroup
	closed  bool
	dropped atomic.Uint64
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode: mode,
		subs: make(map[core.EventType]map[int64]func(context.Context, core.Event)),
	}
	if mode == DispatchAsync {
		eb.queue = make(chan queued, 2048)
		for i := 0; i < 4; i++ {
			eb.workers.Add(1)
			go eb.work()
		}
	}
	return eb
}

func (e *EventBus) work() {
	defer e.workers.Done()
	for q := range e.queue {
		e.dispatch(q.ctx, q.ev)
	}
}

// Close stops accepting events, delivers what is already queued, and waits
// for async workers to exit. Safe to call more than once.
func (e *EventBus) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.queue != nil {
		close(e.queue)
	}
	e.mu.Unlock()
	e.workers.Wait()
}

// Dropped reports how many async events were discarded on a full queue.
func (e *EventBus) Dropped() uint64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]func(context.Context, core.Event))
	}
	e.subs[typ][id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[typ], id)
	}
}

// SubscribeTypes registers one handler for several event types.
func (e *EventBus) SubscribeTypes(handler func(context.Context, core.Event), types ...core.EventType) func() {
	unsubs := make([]func(), len(types))
	for i, t := range types {
		unsubs[i] = e.Subscribe(t, handler)
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to subscribers. Async handlers receive a context
// detached from the publisher's cancellation. Publishing after Close is a
// no-op.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.dispatch(ctx, ev)
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		e.dropped.Add(1)
	}
}

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Event), 0, len(subs))
	for _, fn := range subs {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
