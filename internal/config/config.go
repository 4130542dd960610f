// Package config loads gateway configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration populated from environment variables.
type Config struct {
	// GatewayToken is the optional shared secret clients must present in
	// hello.auth.token. Empty means no authentication is required.
	GatewayToken string

	// Version is reported in hello-ok.server.version and in the gateway's
	// own presence entry.
	Version string

	// Commit is reported in hello-ok.server.commit, if known.
	Commit string

	// Port is the loopback TCP port the gateway binds. The host is always
	// 127.0.0.1; binding non-loopback is a bug, not a configuration option.
	Port int

	// LogLevel controls the zerolog global level ("debug", "info", "warn", "error").
	LogLevel string

	// TickInterval is the interval between the hub's "tick" broadcasts to
	// every ready connection. set-heartbeats records a per-connection
	// setting but does not change which connections receive ticks.
	TickInterval time.Duration
}

// Load reads configuration from environment variables. It returns an error if
// any variable is set but cannot be parsed.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		GatewayToken: envStr("CLAWDIS_GATEWAY_TOKEN", ""),
		Version:      envStr("CLAWDIS_VERSION", "dev"),
		Commit:       envStr("GIT_COMMIT", ""),
		Port:         p.int("CLAWDIS_GATEWAY_PORT", 18789),
		LogLevel:     envStr("CLAWDIS_LOG_LEVEL", "info"),
		TickInterval: time.Duration(p.int("CLAWDIS_TICK_INTERVAL_MS", 30000)) * time.Millisecond,
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CLAWDIS_GATEWAY_PORT must be between 1 and 65535, got %d", cfg.Port)
	}

	return cfg, nil
}

// RequiresAuth returns true when clients must present a matching token in hello.auth.token.
func (c *Config) RequiresAuth() bool {
	return c.GatewayToken != ""
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
