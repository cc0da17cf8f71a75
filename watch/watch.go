// Package watch assembles a ready-to-run overtake listener from optional
// parts, defaulting to an in-memory store and a logging pusher.
package watch

import (
	"log/slog"

	"leaderwatch/adapters/memory"
	"leaderwatch/core"
	"leaderwatch/engine"
	"leaderwatch/integrations/webhook"
	"leaderwatch/metrics"
	"leaderwatch/push"
	"leaderwatch/realtime"
)

// Option configures the listener builder.
type Option func(*config)

type config struct {
	store       engine.Store
	pusher      engine.Pusher
	mode        engine.DispatchMode
	hub         *realtime.Hub
	sink        *webhook.Sink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	parallel    bool
	maxParallel int
}

// WithStore sets the authoritative store.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithPusher sets the push provider.
func WithPusher(p engine.Pusher) Option { return func(c *config) { c.pusher = p } }

// WithSender sets a per-token sender, sent to sequentially.
func WithSender(s push.Sender) Option {
	return func(c *config) { c.pusher = push.NewSequential(s) }
}

// WithDispatchMode selects sync or async domain event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime streams overtake and prune events to a realtime hub.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhook posts overtake events to a webhook sink.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.sink = s } }

// WithMetrics counts listener events.
func WithMetrics(m *metrics.Metrics) Option { return func(c *config) { c.metrics = m } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithParallelDispatch notifies the overtaken users of one change
// concurrently, at most max at a time (<= 0 for unbounded).
func WithParallelDispatch(max int) Option {
	return func(c *config) {
		c.parallel = true
		c.maxParallel = max
	}
}

// Watcher is a listener plus the event bus its observers hang off.
type Watcher struct {
	*engine.Listener
	Bus *engine.EventBus
}

// Close stops the bus workers. Call after Run returns.
func (w *Watcher) Close() { w.Bus.Close() }

// New builds a configured Watcher. If not provided, defaults are used:
//   - store: in-memory
//   - pusher: log sender
//   - dispatch: async
func New(opts ...Option) (*Watcher, error) {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.pusher == nil {
		cfg.pusher = push.NewSequential(push.NewLogSender(cfg.logger))
	}

	bus := engine.NewEventBus(cfg.mode)
	l, err := engine.NewListener(cfg.store, cfg.pusher, nil, engine.Options{
		Logger:           cfg.logger,
		Bus:              bus,
		ParallelDispatch: cfg.parallel,
		MaxParallel:      cfg.maxParallel,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	if cfg.hub != nil {
		bus.SubscribeTypes(cfg.hub.Broadcast, core.EventUserOvertaken, core.EventTokensPruned)
	}
	if cfg.sink != nil {
		bus.Subscribe(core.EventUserOvertaken, cfg.sink.OnEvent)
	}
	if cfg.metrics != nil {
		cfg.metrics.Attach(bus)
		cfg.metrics.TrackCache(l.Cache())
	}
	return &Watcher{Listener: l, Bus: bus}, nil
}
