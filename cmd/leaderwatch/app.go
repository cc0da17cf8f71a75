package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"leaderwatch/adapters/jsonfile"
	mem "leaderwatch/adapters/memory"
	redisAdapter "leaderwatch/adapters/redis"
	sqlxAdapter "leaderwatch/adapters/sqlx"
	"leaderwatch/api/httpapi"
	"leaderwatch/config"
	"leaderwatch/engine"
	"leaderwatch/integrations/webhook"
	"leaderwatch/metrics"
	"leaderwatch/push"
	"leaderwatch/push/fcm"
	"leaderwatch/realtime"
	"leaderwatch/watch"
)

// App aggregates the assembled listener components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Watcher *watch.Watcher
	Handler http.Handler
	Server  *http.Server
}

// provideConfig honors LEADERWATCH_CONFIG_FILE and LEADERWATCH_PROFILE. Without
// a profile the fcm provider is selected and FIREBASE_SERVICE_ACCOUNT must hold
// a service account, otherwise startup fails.
func provideConfig() (*config.Config, error) {
	if path := os.Getenv("LEADERWATCH_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Store, func(), error) {
	store, err := setupStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := store.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
		}
	}
	return store, cleanup, nil
}

func providePusher(cfg *config.Config, logger *slog.Logger) (engine.Pusher, error) {
	sender, err := setupSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	return push.NewSequential(sender), nil
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled && cfg.Metrics.CollectSystem {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

func provideMetrics(cfg *config.Config, reg *prometheus.Registry) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(reg)
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Webhook.Endpoints) == 0 {
		return nil
	}
	return webhook.New(cfg.Webhook.Endpoints,
		webhook.WithClient(&http.Client{Timeout: cfg.Webhook.Timeout}),
		webhook.WithLogger(logger))
}

func provideWatcher(cfg *config.Config, logger *slog.Logger, store engine.Store, pusher engine.Pusher,
	hub *realtime.Hub, m *metrics.Metrics, sink *webhook.Sink) (*watch.Watcher, func(), error) {
	opts := []watch.Option{
		watch.WithStore(store),
		watch.WithPusher(pusher),
		watch.WithRealtime(hub),
		watch.WithLogger(logger),
		watch.WithDispatchMode(engine.DispatchAsync),
	}
	if m != nil {
		opts = append(opts, watch.WithMetrics(m))
	}
	if sink != nil {
		opts = append(opts, watch.WithWebhook(sink))
	}
	if cfg.Listener.ParallelDispatch {
		opts = append(opts, watch.WithParallelDispatch(cfg.Listener.MaxParallel))
	}
	w, err := watch.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}

func provideHandler(cfg *config.Config, w *watch.Watcher, store engine.Store, hub *realtime.Hub,
	reg *prometheus.Registry) http.Handler {
	deps := httpapi.Deps{Listener: w, Hub: hub}
	if p, ok := store.(httpapi.Pinger); ok {
		deps.Store = p
	}
	if wr, ok := store.(httpapi.Writer); ok {
		deps.Writer = wr
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler(reg)
	}
	return httpapi.NewMux(deps, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		StatusTopN:       cfg.Listener.StatusTopN,
		MetricsPath:      cfg.Metrics.Path,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStore creates the store adapter selected by configuration.
func setupStore(_ context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	case "redis":
		rc := cfg.Storage.Redis
		if cfg.Listener.StreamBlock > 0 {
			rc.StreamBlock = cfg.Listener.StreamBlock
		}
		if cfg.Listener.StreamBatch > 0 {
			rc.StreamBatch = cfg.Listener.StreamBatch
		}
		return redisAdapter.New(rc)
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

// setupSender creates the push sender selected by configuration.
func setupSender(cfg *config.Config, logger *slog.Logger) (push.Sender, error) {
	client := &http.Client{Timeout: cfg.Push.Timeout}
	switch cfg.Push.Provider {
	case "log":
		return push.NewLogSender(logger), nil
	case "fcm":
		creds, err := cfg.Push.Credentials()
		if err != nil {
			return nil, fmt.Errorf("load fcm credentials: %w", err)
		}
		return fcm.New(creds, fcm.WithHTTPClient(client), fcm.WithEndpoint(cfg.Push.FCMEndpoint))
	case "webhook":
		return webhook.NewSender(cfg.Push.WebhookURL, webhook.WithClient(client))
	default:
		return nil, fmt.Errorf("unknown push provider: %s", cfg.Push.Provider)
	}
}
