// Package config holds the runtime settings of the skilld daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
)

const (
	defaultHTTPListenAddr  = ":8080"
	defaultGRPCListenAddr  = ":7000"
	defaultDatabaseURL     = "sqlite:///tmp/skilltrack.db"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultJWTIssuer       = "skilltrack"
	defaultDefaultCategory = "mining"
	defaultShutdownTimeout = 10 * time.Second
)

// Config aggregates runtime settings for skilld.
type Config struct {
	HTTPListenAddr     string
	GRPCListenAddr     string
	DatabaseURL        string
	FlushInterval      time.Duration
	LevelsFile         string
	AllowedOrigins     []string
	JWTSigningKey      string
	JWTIssuer          string
	TrackRetryAttempts int
	DefaultCategory    string
	ShutdownTimeout    time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.DefaultCategory = defaultIfEmpty(cfg.DefaultCategory, defaultDefaultCategory)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = skills.DefaultFlushInterval
	}
	if cfg.TrackRetryAttempts <= 0 {
		cfg.TrackRetryAttempts = skills.DefaultTrackRetryAttempts
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.HTTPListenAddr == cfg.GRPCListenAddr {
		return fmt.Errorf("http and grpc listen addrs must differ: %s", cfg.HTTPListenAddr)
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if _, err := skills.ParseCategory(cfg.DefaultCategory); err != nil {
		return fmt.Errorf("default category: %w", err)
	}
	return nil
}

// Category returns the parsed default category. Call after Validate.
func (cfg *Config) Category() skills.Category {
	category, err := skills.ParseCategory(cfg.DefaultCategory)
	if err != nil {
		return skills.Mining
	}
	return category
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
