package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"leaderwatch/adapters/redis"
	"leaderwatch/adapters/sqlx"
	"leaderwatch/push/fcm"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"LEADERWATCH_ENV"`
	Profile     string      `json:"profile" env:"LEADERWATCH_PROFILE"`

	// Health/status server configuration
	Server ServerConfig `json:"server"`

	// Authoritative store configuration
	Storage StorageConfig `json:"storage"`

	// Push provider configuration
	Push PushConfig `json:"push"`

	// Listener tuning
	Listener ListenerConfig `json:"listener"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics"`

	// Outbound event webhooks
	Webhook WebhookConfig `json:"webhook"`

	// Security configuration
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LEADERWATCH_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LEADERWATCH_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LEADERWATCH_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LEADERWATCH_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LEADERWATCH_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LEADERWATCH_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LEADERWATCH_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LEADERWATCH_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"LEADERWATCH_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"LEADERWATCH_STORAGE_FILE_PATH"`
}

// PushConfig selects and configures the push provider.
type PushConfig struct {
	Provider string        `json:"provider" env:"LEADERWATCH_PUSH_PROVIDER"`
	Timeout  time.Duration `json:"timeout" env:"LEADERWATCH_PUSH_TIMEOUT"`
	// FCMEndpoint overrides the FCM API base URL.
	FCMEndpoint string `json:"fcm_endpoint" env:"LEADERWATCH_PUSH_FCM_ENDPOINT"`
	// CredentialsEnv names the variable holding the service-account JSON.
	CredentialsEnv string `json:"credentials_env" env:"LEADERWATCH_PUSH_CREDENTIALS_ENV"`
	WebhookURL     string `json:"webhook_url,omitempty" env:"LEADERWATCH_PUSH_WEBHOOK_URL"`
}

// Credentials loads the FCM service account named by CredentialsEnv.
func (p PushConfig) Credentials() (*fcm.Credentials, error) {
	return fcm.CredentialsFromEnv(p.CredentialsEnv)
}

// ListenerConfig tunes the change listener.
type ListenerConfig struct {
	ParallelDispatch bool `json:"parallel_dispatch" env:"LEADERWATCH_LISTENER_PARALLEL_DISPATCH"`
	MaxParallel      int  `json:"max_parallel" env:"LEADERWATCH_LISTENER_MAX_PARALLEL"`
	// StreamBlock and StreamBatch override the Redis stream read settings
	// when positive.
	StreamBlock time.Duration `json:"stream_block" env:"LEADERWATCH_LISTENER_STREAM_BLOCK"`
	StreamBatch int64         `json:"stream_batch" env:"LEADERWATCH_LISTENER_STREAM_BATCH"`
	StatusTopN  int           `json:"status_top_n" env:"LEADERWATCH_LISTENER_STATUS_TOP_N"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LEADERWATCH_LOG_LEVEL"`
	Format     string            `json:"format" env:"LEADERWATCH_LOG_FORMAT"`
	Output     string            `json:"output" env:"LEADERWATCH_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LEADERWATCH_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"LEADERWATCH_METRICS_ENABLED"`
	Path          string `json:"path" env:"LEADERWATCH_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" env:"LEADERWATCH_METRICS_COLLECT_SYSTEM"`
}

// WebhookConfig lists endpoints that receive overtake events.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" env:"LEADERWATCH_WEBHOOK_ENDPOINTS"`
	Timeout   time.Duration `json:"timeout" env:"LEADERWATCH_WEBHOOK_TIMEOUT"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LEADERWATCH_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LEADERWATCH_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"LEADERWATCH_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"LEADERWATCH_SECURITY_RATE_LIMIT_BURST"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads .env, starts from the profile named by LEADERWATCH_PROFILE (or
// DefaultConfig), overlays LEADERWATCH_* variables and validates the result.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := baseConfig()
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadFromFile layers a JSON config file over the selected profile.
// Environment variables still win over file values.
func LoadFromFile(path string) (*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := baseConfig()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readConfigFile only accepts .json files.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	clean := filepath.Clean(path)
	if !strings.EqualFold(filepath.Ext(clean), ".json") {
		return nil, fmt.Errorf("config file %s is not .json", path)
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

// DefaultConfig returns the production shape: Redis store and FCM push, which
// requires FIREBASE_SERVICE_ACCOUNT. Use the development or testing profile
// to run without external services.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":3000",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "redis",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/leaderboard.json",
			},
		},
		Push: PushConfig{
			Provider:       "fcm",
			Timeout:        10 * time.Second,
			FCMEndpoint:    fcm.DefaultEndpoint,
			CredentialsEnv: fcm.DefaultCredentialsEnv,
		},
		Listener: ListenerConfig{
			MaxParallel: 8,
			StatusTopN:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Path:          "/metrics",
			CollectSystem: true,
		},
		Webhook: WebhookConfig{
			Timeout: 2 * time.Second,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
	}
}

// Validate checks every section and reports all problems at once, each
// prefixed with its section name.
func (c *Config) Validate() error {
	var errs []string
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"push", &c.Push},
		{"listener", &c.Listener},
		{"logging", &c.Logging},
		{"metrics", &c.Metrics},
		{"webhook", &c.Webhook},
		{"security", &c.Security},
	}
	for _, sec := range sections {
		if err := sec.v.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", sec.name, err))
		}
	}
	return joinErrs(errs)
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
