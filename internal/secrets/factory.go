package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config holds configuration for the secrets backend.
type Config struct {
	// Backend specifies which backend to use: "1password", "local", or "auto".
	// "auto" (default) uses 1Password Connect if configured, otherwise local.
	Backend string

	// 1Password Connect configuration.
	OnePasswordHost  string
	OnePasswordToken string
	OnePasswordVault string

	// Local storage directory (default: ~/.nopingd/keys)
	LocalKeyDir string

	// GracePeriod is how long a rotated-out signing key stays valid for
	// verification. Zero means DefaultGracePeriod.
	GracePeriod time.Duration
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Backend:          getEnv("NOPINGD_SECRETS_BACKEND", "auto"),
		OnePasswordHost:  os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken: os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVault: os.Getenv("OP_VAULT_ID"),
		LocalKeyDir:      os.Getenv("NOPINGD_KEY_DIR"),
	}
	if v := os.Getenv("NOPINGD_SIGNING_KEY_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GracePeriod = d
		}
	}
	return cfg
}

// NewKeyStore creates a KeyStore based on configuration.
func NewKeyStore(cfg Config, logger *slog.Logger) (KeyStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	opConfig := OnePasswordConfig{
		Host:        cfg.OnePasswordHost,
		Token:       cfg.OnePasswordToken,
		VaultID:     cfg.OnePasswordVault,
		GracePeriod: cfg.GracePeriod,
	}

	switch backend {
	case "1password":
		if cfg.OnePasswordToken == "" {
			return nil, fmt.Errorf("1Password backend requested but OP_CONNECT_TOKEN not set")
		}
		return NewOnePasswordKeyStore(opConfig, logger)

	case "local":
		return NewLocalKeyStore(cfg.LocalKeyDir, cfg.GracePeriod, logger)

	case "auto":
		// Try 1Password Connect first, fall back to local.
		if cfg.OnePasswordToken != "" {
			ks, err := NewOnePasswordKeyStore(opConfig, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local storage",
					"error", err)
				return NewLocalKeyStore(cfg.LocalKeyDir, cfg.GracePeriod, logger)
			}
			return ks, nil
		}
		logger.Info("OP_CONNECT_TOKEN not set, using local key storage")
		return NewLocalKeyStore(cfg.LocalKeyDir, cfg.GracePeriod, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
