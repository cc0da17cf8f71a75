package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "leaderwatch/adapters/websocket"
	"leaderwatch/core"
	"leaderwatch/engine"
	"leaderwatch/leaderboard"
	"leaderwatch/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	PathPrefix      string // e.g. "/api"
	AllowCORSOrigin string // "*" for any; empty disables CORS headers
	// APIKeys are accepted as "Authorization: Bearer <key>" or X-API-Key.
	// Liveness routes are never authenticated.
	APIKeys          []string
	RateLimitEnabled bool
	RateLimitRPM     int // per client, keyed by API key or remote IP
	RateLimitBurst   int
	// StatusTopN bounds the leaderboard excerpt in /status (default 10).
	StatusTopN int
	// MetricsPath is where Deps.Metrics is mounted (default /metrics).
	MetricsPath string
}

// StatusSource is the listener view served by /status.
type StatusSource interface {
	State() engine.State
	Cache() *engine.ScoreCache
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Writer mutates the authoritative store behind the score and token routes.
type Writer interface {
	SetScore(ctx context.Context, rec core.ScoreRecord) error
	AddDeviceTokens(ctx context.Context, user core.UserID, tokens ...string) error
}

// Deps are the optional collaborators behind the routes. Routes whose
// dependency is nil are not registered.
type Deps struct {
	Listener StatusSource
	Store    Pinger
	Writer   Writer
	Hub      *realtime.Hub
	Metrics  http.Handler
}

// NewMux builds the listener's HTTP surface.
// Routes:
//   - GET  {prefix}/healthz           liveness, always 200 "ok"
//   - GET  {prefix}/ping              "pong"
//   - GET  {prefix}/status            listener state and top scores
//   - GET  {prefix}/metrics           Prometheus metrics
//   - GET  {prefix}/ws                websocket stream of overtake events
//   - POST {prefix}/users/{id}/score?value=15&name=Ana
//   - POST {prefix}/users/{id}/tokens?token=abc
//
// Everything except healthz and ping goes through API key auth and the
// rate limiter when those are configured.
func NewMux(deps Deps, opts Options) http.Handler {
	p := strings.TrimSuffix(opts.PathPrefix, "/")
	guard := protect(opts)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+p+"/healthz", healthz)
	mux.HandleFunc("GET "+p+"/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong"))
	})

	if deps.Listener != nil {
		topN := opts.StatusTopN
		if topN <= 0 {
			topN = 10
		}
		mux.Handle("GET "+p+"/status", guard(statusHandler(deps.Listener, deps.Store, topN)))
	}
	if deps.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+p+path, guard(deps.Metrics))
	}
	if deps.Hub != nil {
		mux.Handle("GET "+p+"/ws", guard(wsadapter.Handler(deps.Hub)))
	}
	if deps.Writer != nil {
		mux.Handle("POST "+p+"/users/{id}/score", guard(setScoreHandler(deps.Writer)))
		mux.Handle("POST "+p+"/users/{id}/tokens", guard(addTokensHandler(deps.Writer)))
	}

	if opts.AllowCORSOrigin != "" {
		return withCORS(mux, opts.AllowCORSOrigin)
	}
	return mux
}

// healthz answers liveness checks. It never consults the store.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	State       string              `json:"state"`
	CachedUsers int                 `json:"cached_users"`
	Top         []leaderboard.Entry `json:"top"`
	Store       string              `json:"store,omitempty"`
}

// statusHandler reports 503 once the listener has terminated or the store
// stops answering pings.
func statusHandler(src StatusSource, store Pinger, topN int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := src.State()
		resp := statusResponse{
			State:       state.String(),
			CachedUsers: src.Cache().Len(),
			Top:         src.Cache().Top(topN),
		}
		code := http.StatusOK
		if state == engine.StateTerminated {
			code = http.StatusServiceUnavailable
		}
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Store = "ok"
			if err := store.Ping(ctx); err != nil {
				resp.Store = "failed"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSONStatus(w, code, resp)
	}
}

func pathUser(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user := core.UserID(r.PathValue("id"))
	if err := core.ValidateUserID(user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

func setScoreHandler(writer Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := pathUser(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		v, err := strconv.ParseFloat(q.Get("value"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_score", "value must be a number", nil)
			return
		}
		rec := core.ScoreRecord{UserID: user, Score: core.Score(v), DisplayName: q.Get("name")}
		if err := writer.SetScore(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		writeJSON(w, leaderboard.Entry{User: user, Score: rec.Score})
	}
}

func addTokensHandler(writer Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := pathUser(w, r)
		if !ok {
			return
		}
		tokens := r.URL.Query()["token"]
		if len(tokens) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_token", "token is required", nil)
			return
		}
		if err := writer.AddDeviceTokens(r.Context(), user, tokens...); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "added": len(tokens)})
	}
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, code int, errCode, msg string, details any) {
	writeJSONStatus(w, code, apiError{Code: errCode, Message: msg, Details: details})
}
