// Package config loads gateway configuration from HANASHI_* environment
// variables, with validated defaults suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// HMAC secret for bearer tokens. Empty means every connection is
	// treated as anonymous.
	JWTSecret string

	// PostgreSQL connection string. Empty selects the in-memory store.
	DatabaseURL string

	// Gemini API key. Empty selects the scripted offline responder.
	GeminiAPIKey string
	GeminiModel  string

	// Browser origins allowed to open a chat socket. Empty disables the
	// origin check (development mode).
	AllowedOrigins map[string]struct{}

	// Chat socket limits.
	MaxMessageBytes    int64
	MaxInputRunes      int
	ContextMaxPairs    int
	MaxSessionDuration time.Duration
	InboundRPS         float64
	InboundBurst       int
	OutboundQueueSize  int

	// Streaming cadence.
	KeepAliveInterval time.Duration
	SlowThreshold     time.Duration
	StreamWarnAfter   time.Duration
	StreamInterval    time.Duration

	// Transport timeouts.
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	HandshakeTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("HANASHI_ADDR", ":8080"),
		JWTSecret:           strings.TrimSpace(os.Getenv("HANASHI_JWT_SECRET")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("HANASHI_DATABASE_URL")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("HANASHI_GEMINI_API_KEY")),
		GeminiModel:         envOr("HANASHI_GEMINI_MODEL", "gemini-2.5-flash"),
		AllowedOrigins:      make(map[string]struct{}),
		MaxMessageBytes:     envInt64Or("HANASHI_MAX_MESSAGE_BYTES", 64*1024),
		MaxInputRunes:       envIntOr("HANASHI_MAX_INPUT_RUNES", 2000),
		ContextMaxPairs:     envIntOr("HANASHI_CONTEXT_MAX_PAIRS", 20),
		MaxSessionDuration:  envDurationOr("HANASHI_MAX_SESSION_DURATION", 2*time.Hour),
		InboundRPS:          envFloat64Or("HANASHI_INBOUND_RPS", 2.0),
		InboundBurst:        envIntOr("HANASHI_INBOUND_BURST", 5),
		OutboundQueueSize:   envIntOr("HANASHI_OUTBOUND_QUEUE_SIZE", 128),
		KeepAliveInterval:   envDurationOr("HANASHI_KEEPALIVE_INTERVAL", 2*time.Second),
		SlowThreshold:       envDurationOr("HANASHI_SLOW_THRESHOLD", 5*time.Second),
		StreamWarnAfter:     envDurationOr("HANASHI_STREAM_WARN_AFTER", 30*time.Second),
		StreamInterval:      envDurationOr("HANASHI_STREAM_CHECK_INTERVAL", 5*time.Second),
		WSPingInterval:      envDurationOr("HANASHI_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("HANASHI_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("HANASHI_WS_READ_TIMEOUT", 0),
		HandshakeTimeout:    envDurationOr("HANASHI_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:   envDurationOr("HANASHI_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("HANASHI_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("HANASHI_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("HANASHI_ADDR must not be empty")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("HANASHI_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxInputRunes <= 0 {
		return Config{}, fmt.Errorf("HANASHI_MAX_INPUT_RUNES must be > 0")
	}
	if cfg.ContextMaxPairs <= 0 {
		return Config{}, fmt.Errorf("HANASHI_CONTEXT_MAX_PAIRS must be > 0")
	}
	if cfg.MaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("HANASHI_MAX_SESSION_DURATION must be > 0")
	}
	if cfg.InboundRPS < 0 {
		return Config{}, fmt.Errorf("HANASHI_INBOUND_RPS must be >= 0")
	}
	if cfg.InboundBurst < 0 {
		return Config{}, fmt.Errorf("HANASHI_INBOUND_BURST must be >= 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("HANASHI_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.KeepAliveInterval <= 0 {
		return Config{}, fmt.Errorf("HANASHI_KEEPALIVE_INTERVAL must be > 0")
	}
	if cfg.SlowThreshold <= 0 {
		return Config{}, fmt.Errorf("HANASHI_SLOW_THRESHOLD must be > 0")
	}
	if cfg.StreamWarnAfter <= 0 {
		return Config{}, fmt.Errorf("HANASHI_STREAM_WARN_AFTER must be > 0")
	}
	if cfg.StreamInterval <= 0 {
		return Config{}, fmt.Errorf("HANASHI_STREAM_CHECK_INTERVAL must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("HANASHI_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("HANASHI_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("HANASHI_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("HANASHI_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("HANASHI_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("HANASHI_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
