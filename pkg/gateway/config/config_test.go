package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.MaxInputRunes != 2000 {
		t.Fatalf("max input runes=%d", cfg.MaxInputRunes)
	}
	if cfg.ContextMaxPairs != 20 {
		t.Fatalf("context max pairs=%d", cfg.ContextMaxPairs)
	}
	if cfg.KeepAliveInterval != 2*time.Second {
		t.Fatalf("keepalive=%v", cfg.KeepAliveInterval)
	}
	if cfg.SlowThreshold != 5*time.Second {
		t.Fatalf("slow threshold=%v", cfg.SlowThreshold)
	}
	if cfg.DatabaseURL != "" || cfg.GeminiAPIKey != "" {
		t.Fatalf("backends should default to empty")
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("origins should default to empty")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("HANASHI_ADDR", ":9999")
	t.Setenv("HANASHI_MAX_INPUT_RUNES", "500")
	t.Setenv("HANASHI_KEEPALIVE_INTERVAL", "750ms")
	t.Setenv("HANASHI_ALLOWED_ORIGINS", "https://hanashi.live, https://staging.hanashi.live")
	t.Setenv("HANASHI_INBOUND_RPS", "3.5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.MaxInputRunes != 500 {
		t.Fatalf("max input runes=%d", cfg.MaxInputRunes)
	}
	if cfg.KeepAliveInterval != 750*time.Millisecond {
		t.Fatalf("keepalive=%v", cfg.KeepAliveInterval)
	}
	if cfg.InboundRPS != 3.5 {
		t.Fatalf("inbound rps=%v", cfg.InboundRPS)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if _, ok := cfg.AllowedOrigins["https://staging.hanashi.live"]; !ok {
		t.Fatalf("missing trimmed origin")
	}
}

func TestLoadFromEnv_MalformedValueFallsBack(t *testing.T) {
	t.Setenv("HANASHI_MAX_INPUT_RUNES", "a lot")
	t.Setenv("HANASHI_KEEPALIVE_INTERVAL", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxInputRunes != 2000 {
		t.Fatalf("max input runes=%d, want default", cfg.MaxInputRunes)
	}
	if cfg.KeepAliveInterval != 2*time.Second {
		t.Fatalf("keepalive=%v, want default", cfg.KeepAliveInterval)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"HANASHI_MAX_MESSAGE_BYTES":     "-1",
		"HANASHI_MAX_INPUT_RUNES":       "0",
		"HANASHI_CONTEXT_MAX_PAIRS":     "-3",
		"HANASHI_KEEPALIVE_INTERVAL":    "-1s",
		"HANASHI_SLOW_THRESHOLD":        "-1s",
		"HANASHI_STREAM_WARN_AFTER":     "-1s",
		"HANASHI_WS_PING_INTERVAL":      "-1s",
		"HANASHI_WS_WRITE_TIMEOUT":      "-1s",
		"HANASHI_SHUTDOWN_GRACE_PERIOD": "-1s",
		"HANASHI_INBOUND_RPS":           "-2",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("%s=%s accepted", key, value)
			}
		})
	}
}
