package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mem "leaderwatch/adapters/memory"
	"leaderwatch/api/httpapi"
	"leaderwatch/core"
	"leaderwatch/realtime"
	"leaderwatch/watch"
)

// demo seed: three players close enough for a single post to overtake someone
var seed = []struct {
	rec    core.ScoreRecord
	tokens []string
}{
	{core.ScoreRecord{UserID: "ana", Score: 10, DisplayName: "Ana"}, []string{"ana-phone"}},
	{core.ScoreRecord{UserID: "bruno", Score: 12, DisplayName: "Bruno"}, []string{"bruno-phone", "bruno-tablet"}},
	{core.ScoreRecord{UserID: "carla", Score: 14}, nil},
}

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := mem.New()
	for _, s := range seed {
		_ = store.SetScore(ctx, s.rec)
		_ = store.AddDeviceTokens(ctx, s.rec.UserID, s.tokens...)
	}

	hub := realtime.NewHub()
	w, err := watch.New(
		watch.WithStore(store),
		watch.WithRealtime(hub),
		watch.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to build listener", "error", err)
		os.Exit(1)
	}
	defer w.Close()

	// POST /users/{id}/score?value=15&name=Ana, POST /users/{id}/tokens?token=abc,
	// GET /status, WS /ws
	handler := httpapi.NewMux(httpapi.Deps{Listener: w, Writer: store, Hub: hub}, httpapi.Options{AllowCORSOrigin: "*"})
	srv := &http.Server{Addr: ":8080", Handler: handler}

	go func() {
		slog.Info("starting demo server on :8080")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("demo server crashed", "error", err)
			os.Exit(1)
		}
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("listener failed", "error", err)
	}
	_ = srv.Shutdown(context.Background())
}
