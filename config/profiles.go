package config

import (
	"fmt"
	"os"
	"time"
)

// ProfileEnv selects the profile Load and LoadFromFile start from.
const ProfileEnv = "LEADERWATCH_PROFILE"

// LoadProfile returns the defaults for a named deployment profile with
// environment variables applied on top. Validation is left to the caller.
func LoadProfile(name string) (*Config, error) {
	cfg, err := profileDefaults(name)
	if err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

// profileDefaults starts from DefaultConfig (redis store, fcm push). The
// development and testing profiles switch to the in-memory store and the log
// sender so they run without external services or credentials.
func profileDefaults(name string) (*Config, error) {
	cfg := DefaultConfig()
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Storage.Adapter = "memory"
		cfg.Push.Provider = "log"
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Storage.Adapter = "memory"
		cfg.Push.Provider = "log"
		cfg.Logging.Level = "warn"
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Metrics.Enabled = true
	case EnvProduction:
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Profile = name
	return cfg, nil
}

// baseConfig honors ProfileEnv, falling back to DefaultConfig.
func baseConfig() (*Config, error) {
	if name := os.Getenv(ProfileEnv); name != "" {
		return profileDefaults(name)
	}
	return DefaultConfig(), nil
}
