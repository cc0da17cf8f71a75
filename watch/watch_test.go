package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	mem "leaderwatch/adapters/memory"
	"leaderwatch/core"
	"leaderwatch/engine"
	"leaderwatch/metrics"
	"leaderwatch/realtime"
)

type recorder struct {
	mu     sync.Mutex
	sent   []string
	bodies []string
}

func (r *recorder) Send(_ context.Context, token string, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, token)
	r.bodies = append(r.bodies, n.Body)
	if token == "dead" {
		return core.InvalidToken("UNREGISTERED", nil)
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	_ = store.SetScore(ctx, core.ScoreRecord{UserID: "ana", Score: 10, DisplayName: "Ana"})
	_ = store.SetScore(ctx, core.ScoreRecord{UserID: "bia", Score: 12, DisplayName: "Bia"})
	_ = store.AddDeviceTokens(ctx, "bia", "live", "dead")

	hub := realtime.NewHub()
	sub := hub.Subscribe(8, nil)
	events := sub.Events()
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	w, err := New(
		WithStore(store),
		WithSender(rec),
		WithRealtime(hub),
		WithMetrics(m),
		WithDispatchMode(engine.DispatchSync),
	)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()
	waitFor(t, "listening", func() bool { return w.State() == engine.StateListening })

	_ = store.SetScore(ctx, core.ScoreRecord{UserID: "ana", Score: 15, DisplayName: "Ana"})

	ev := <-events
	if ev.Type != core.EventUserOvertaken || ev.UserID != "ana" || ev.TargetID != "bia" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ev = <-events
	if ev.Type != core.EventTokensPruned || ev.Count != 1 {
		t.Fatalf("expected prune event, got %+v", ev)
	}

	tokens, _ := store.DeviceTokens(ctx, "bia")
	if len(tokens) != 1 || tokens[0] != "live" {
		t.Fatalf("expected only live token to remain, got %v", tokens)
	}
	rec.mu.Lock()
	if len(rec.sent) != 2 || rec.bodies[0] != "Ana te passou com 15 pontos." {
		t.Fatalf("unexpected sends: %v %v", rec.sent, rec.bodies)
	}
	rec.mu.Unlock()
	if got := testutil.ToFloat64(m.Overtakes); got != 1 {
		t.Fatalf("expected 1 overtake counted, got %v", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if w.State() != engine.StateTerminated {
		t.Fatalf("expected terminated, got %s", w.State())
	}
}

func TestNewDefaults(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()
	if w.State() != engine.StateUninitialized {
		t.Fatalf("unexpected state %s", w.State())
	}
	if w.Cache() == nil || w.Bus == nil {
		t.Fatal("expected cache and bus")
	}
}
