package services

import (
	"log"
	"os"
	"time"
)

// Config carries the tunables for session pacing, cooldown policy, and
// credential lifetime.
type Config struct {
	// SessionMaxDuration is the hard ceiling on total session lifetime,
	// independent of the per-bounty required seconds.
	SessionMaxDuration time.Duration
	// CooldownWindow is applied to the user after an expired or cancelled session.
	CooldownWindow time.Duration
	// TokenTTL is the absolute expiry of each bearer token.
	TokenTTL time.Duration
	// SoftRetryLimit caps how many times a session may request re-issuance of a
	// checkpoint code after the initial issuance.
	SoftRetryLimit int
}

func DefaultConfig() Config {
	return Config{
		SessionMaxDuration: 30 * time.Minute,
		CooldownWindow:     10 * time.Minute,
		TokenTTL:           90 * time.Second,
		SoftRetryLimit:     1,
	}
}

// ConfigFromEnv overlays env overrides on the defaults. Invalid values are
// fatal at boot.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SessionMaxDuration = durationEnv("SESSION_MAX_DURATION", cfg.SessionMaxDuration)
	cfg.CooldownWindow = durationEnv("SESSION_COOLDOWN_WINDOW", cfg.CooldownWindow)
	cfg.TokenTTL = durationEnv("SESSION_TOKEN_TTL", cfg.TokenTTL)
	return cfg
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("%s must be a positive duration, got %q", key, raw)
	}
	return d
}
