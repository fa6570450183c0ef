package httpapi

import (
	"fmt"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultSessionIssuer = "coinflipd"
	defaultSessionTTL    = 24 * time.Hour
	defaultHistoryLimit  = 20
)

// Config aggregates runtime settings for the HTTP API.
type Config struct {
	ListenAddr     string
	SessionSecret  string
	SessionIssuer  string
	SessionTTL     time.Duration
	AllowedOrigins []string
	HistoryLimit   int
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
