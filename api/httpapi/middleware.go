package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type middleware func(http.Handler) http.Handler

// protect composes the auth and rate limit middleware enabled in opts.
// Auth runs first so unauthenticated callers do not consume tokens.
func protect(opts Options) middleware {
	var chain []middleware
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		chain = append(chain, rateLimit(newLimiters(opts.RateLimitRPM, opts.RateLimitBurst)))
	}
	if keys := keySet(opts.APIKeys); len(keys) > 0 {
		chain = append(chain, requireAPIKey(keys))
	}
	return func(h http.Handler) http.Handler {
		for _, m := range chain {
			h = m(h)
		}
		return h
	}
}

func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.WriteHeader(http.StatusNoContent)
	})
}

func keySet(keys []string) map[string]bool {
	set := map[string]bool{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = true
		}
	}
	return set
}

func requireAPIKey(allowed map[string]bool) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch key := apiKey(r); {
			case key == "":
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			case !allowed[key]:
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// clientKey identifies a caller for rate limiting.
func clientKey(r *http.Request) string {
	if key := apiKey(r); key != "" {
		return "key:" + key
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

func rateLimit(l *limiters) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.get(clientKey(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiters holds one token bucket per client. Buckets idle for longer than
// idleTTL are swept on access.
type limiters struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	byClient  map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

const idleTTL = 10 * time.Minute

func newLimiters(rpm, burst int) *limiters {
	return &limiters{
		every:     rate.Every(time.Minute / time.Duration(rpm)),
		burst:     burst,
		byClient:  map[string]*clientLimiter{},
		lastSweep: time.Now(),
	}
}

func (l *limiters) get(key string) *rate.Limiter {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > idleTTL {
		for k, c := range l.byClient {
			if now.Sub(c.seen) > idleTTL {
				delete(l.byClient, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.byClient[key]
	if !ok {
		c = &clientLimiter{Limiter: rate.NewLimiter(l.every, l.burst)}
		l.byClient[key] = c
	}
	c.seen = now
	return c.Limiter
}
