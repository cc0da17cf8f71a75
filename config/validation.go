package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"leaderwatch/adapters/sqlx"
)

func oneOf(field, value string, allowed []string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

func joinErrs(errs []string) error {
	var out []string
	for _, e := range errs {
		if e != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return errors.New(strings.Join(out, "; "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	errs := []string{oneOf("adapter", s.Adapter, []string{"memory", "redis", "sql", "file"})}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if s.SQL.Driver != sqlx.DriverPostgres {
			errs = append(errs, fmt.Sprintf("sql config: driver must be %s", sqlx.DriverPostgres))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates the push provider. Selecting fcm requires a readable,
// well-formed service account in the configured environment variable.
func (p *PushConfig) Validate() error {
	errs := []string{oneOf("provider", p.Provider, []string{"log", "fcm", "webhook"})}

	if p.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	switch p.Provider {
	case "fcm":
		if _, err := p.Credentials(); err != nil {
			errs = append(errs, fmt.Sprintf("fcm credentials: %v", err))
		}
	case "webhook":
		if _, err := url.ParseRequestURI(p.WebhookURL); err != nil {
			errs = append(errs, "webhook_url must be an absolute URL")
		}
	}

	return joinErrs(errs)
}

// Validate validates listener tuning.
func (l *ListenerConfig) Validate() error {
	var errs []string
	if l.ParallelDispatch && l.MaxParallel < 0 {
		errs = append(errs, "max_parallel cannot be negative")
	}
	if l.StreamBlock < 0 {
		errs = append(errs, "stream_block cannot be negative")
	}
	if l.StreamBatch < 0 {
		errs = append(errs, "stream_batch cannot be negative")
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	return joinErrs([]string{
		oneOf("level", l.Level, []string{"debug", "info", "warn", "error"}),
		oneOf("format", l.Format, []string{"json", "text"}),
		oneOf("output", l.Output, []string{"stdout", "stderr"}),
	})
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return errors.New("path must start with / when metrics are enabled")
	}
	return nil
}

// Validate validates webhook endpoints.
func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		if _, err := url.ParseRequestURI(ep); err != nil {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute URL", i))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	return joinErrs(errs)
}

// Validate checks rate limit settings and API keys.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit && s.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
	}
	if s.EnableRateLimit && s.RateLimit.BurstSize <= 0 {
		errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}
