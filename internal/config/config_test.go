package config

import (
	"encoding/hex"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.HTTPPort != 8085 {
		t.Errorf("HTTPPort = %d, want 8085", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log config = (%q, %q), want (info, text)", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %s, want 30s", cfg.TickInterval)
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := load([]string{
		"-http-port", "9000",
		"-log-level", "DEBUG",
		"-tick-interval", "10s",
		"-webhook-base-url", "https://dial.example.com/",
	})
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want normalized debug", cfg.LogLevel)
	}
	if cfg.TickInterval != 10*time.Second {
		t.Errorf("TickInterval = %s, want 10s", cfg.TickInterval)
	}
	if cfg.WebhookBaseURL != "https://dial.example.com" {
		t.Errorf("WebhookBaseURL = %q, want trailing slash trimmed", cfg.WebhookBaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DIALCAST_HTTP_PORT", "9001")
	t.Setenv("DIALCAST_LOG_FORMAT", "json")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.HTTPPort != 9001 {
		t.Errorf("HTTPPort = %d, want env override 9001", cfg.HTTPPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	t.Setenv("DIALCAST_HTTP_PORT", "9001")

	cfg, err := load([]string{"-http-port", "9002"})
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.HTTPPort != 9002 {
		t.Errorf("HTTPPort = %d, flag should beat env", cfg.HTTPPort)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"-http-port", "99999"}},
		{"bad log level", []string{"-log-level", "verbose"}},
		{"bad log format", []string{"-log-format", "xml"}},
		{"short tick interval", []string{"-tick-interval", "100ms"}},
		{"relative webhook url", []string{"-webhook-base-url", "dial.example.com"}},
		{"half twilio creds", []string{"-twilio-account-sid", "AC123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args); err == nil {
				t.Errorf("load(%v) should fail", tt.args)
			}
		})
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil || key != nil {
		t.Errorf("empty key: got (%v, %v), want (nil, nil)", key, err)
	}

	cfg.EncryptionKey = hex.EncodeToString(make([]byte, 32))
	key, err = cfg.EncryptionKeyBytes()
	if err != nil {
		t.Fatalf("EncryptionKeyBytes() error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	cfg.EncryptionKey = "abcd"
	if _, err := cfg.EncryptionKeyBytes(); err == nil {
		t.Error("short key should be rejected")
	}
}

func TestWebhookSecretBytesGeneratesEphemeral(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.WebhookSecretBytes()
	if err != nil {
		t.Fatalf("WebhookSecretBytes() error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}

	// The generated key sticks for the process lifetime.
	again, err := cfg.WebhookSecretBytes()
	if err != nil {
		t.Fatalf("WebhookSecretBytes() error: %v", err)
	}
	if string(key) != string(again) {
		t.Error("generated secret should be stable across calls")
	}
}

func TestAlertTokens(t *testing.T) {
	cfg := &Config{AlertPushTokens: "tok-a, tok-b,,tok-c "}
	got := cfg.AlertTokens()
	want := []string{"tok-a", "tok-b", "tok-c"}
	if len(got) != len(want) {
		t.Fatalf("AlertTokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if tokens := (&Config{}).AlertTokens(); tokens != nil {
		t.Errorf("empty config should yield no tokens, got %v", tokens)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
