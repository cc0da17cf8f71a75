// Package metrics exposes Prometheus counters derived from listener events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leaderwatch/core"
	"leaderwatch/engine"
)

const namespace = "leaderwatch"

// Metrics holds the listener's collectors, registered on one registry.
type Metrics struct {
	reg prometheus.Registerer

	Changes                *prometheus.CounterVec
	ScoreIncreases         prometheus.Counter
	Overtakes              prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsFailed    *prometheus.CounterVec
	TokensPruned           prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "changes_total",
			Help:      "Total changes read from the change stream, by kind",
		}, []string{"kind"}),
		ScoreIncreases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "score_increases_total",
			Help:      "Total score increases observed on the change stream",
		}),
		Overtakes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "overtakes_total",
			Help:      "Total (actor, overtaken user) pairs detected",
		}),
		NotificationsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Total notifications accepted by the push provider",
		}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "failed_total",
			Help:      "Total notifications rejected by the push provider",
		}, []string{"failure"}),
		TokensPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "tokens_pruned_total",
			Help:      "Total invalid device tokens removed from the store",
		}),
	}
}

// TrackCache exports the cache size as a gauge.
func (m *Metrics) TrackCache(cache *engine.ScoreCache) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "cached_users",
		Help:      "Number of users held in the score cache",
	}, func() float64 { return float64(cache.Len()) })
}

// Observe updates counters for one event.
func (m *Metrics) Observe(_ context.Context, ev core.Event) {
	switch ev.Type {
	case core.EventChangeReceived:
		kind, _ := ev.Metadata["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		m.Changes.WithLabelValues(kind).Inc()
	case core.EventScoreIncreased:
		m.ScoreIncreases.Inc()
	case core.EventUserOvertaken:
		m.Overtakes.Inc()
	case core.EventNotificationDelivered:
		m.NotificationsDelivered.Add(float64(ev.Count))
	case core.EventNotificationFailed:
		m.NotificationsFailed.WithLabelValues(string(ev.Failure)).Add(float64(ev.Count))
	case core.EventTokensPruned:
		m.TokensPruned.Add(float64(ev.Count))
	}
}

// Attach subscribes Observe to every event type it counts. The returned
// function detaches it.
func (m *Metrics) Attach(bus *engine.EventBus) func() {
	return bus.SubscribeTypes(m.Observe,
		core.EventChangeReceived,
		core.EventScoreIncreased,
		core.EventUserOvertaken,
		core.EventNotificationDelivered,
		core.EventNotificationFailed,
		core.EventTokensPruned,
	)
}

// Handler serves the given gatherer in the Prometheus text format. A nil
// gatherer serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
