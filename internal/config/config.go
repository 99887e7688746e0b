package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the Dialcast server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir      string
	HTTPPort     int
	LogLevel     string
	LogFormat    string // "text" or "json"
	TickInterval time.Duration

	// WebhookBaseURL is the public base URL providers deliver status and
	// DTMF callbacks to (e.g. "https://dial.example.com").
	WebhookBaseURL string
	// WebhookJWTSecret is a hex-encoded 32-byte secret used to sign the
	// per-call tokens embedded in webhook URLs.
	WebhookJWTSecret string
	// APITokenHash is the Argon2id hash of the control API bearer token.
	// Empty disables API authentication (local development only).
	APITokenHash string
	// EncryptionKey is a hex-encoded 32-byte key for AES-256-GCM
	// encryption of trunk passwords at rest.
	EncryptionKey string

	// Twilio credentials (carrier A).
	TwilioAccountSID string
	TwilioAuthToken  string

	// SignalWire credentials (carrier B, LaML-compatible REST).
	SignalWireSpace   string
	SignalWireProject string
	SignalWireToken   string

	// AI voice-agent provider.
	AgentBaseURL string
	AgentAPIKey  string

	// Operator alerting via FCM. Empty credentials file disables push
	// alerts; alerts still go to the log.
	FCMCredentialsFile string
	AlertPushTokens    string // comma-separated FCM registration tokens
}

// defaults
const (
	defaultDataDir      = "./data"
	defaultHTTPPort     = 8085
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultTickInterval = 30 * time.Second
)

// envPrefix is the prefix for all Dialcast environment variables.
const envPrefix = "DIALCAST_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcast", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.DurationVar(&cfg.TickInterval, "tick-interval", defaultTickInterval, "interval between dispatch ticks for active campaigns")
	fs.StringVar(&cfg.WebhookBaseURL, "webhook-base-url", "", "public base URL for provider status/DTMF callbacks")
	fs.StringVar(&cfg.WebhookJWTSecret, "webhook-jwt-secret", "", "hex-encoded 32-byte secret for signing webhook tokens")
	fs.StringVar(&cfg.APITokenHash, "api-token-hash", "", "argon2id hash of the control API bearer token (empty disables auth)")
	fs.StringVar(&cfg.EncryptionKey, "encryption-key", "", "hex-encoded 32-byte key for AES-256-GCM encryption of trunk passwords")
	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&cfg.SignalWireSpace, "signalwire-space", "", "SignalWire space domain (e.g. example.signalwire.com)")
	fs.StringVar(&cfg.SignalWireProject, "signalwire-project", "", "SignalWire project ID")
	fs.StringVar(&cfg.SignalWireToken, "signalwire-token", "", "SignalWire API token")
	fs.StringVar(&cfg.AgentBaseURL, "agent-base-url", "", "AI voice-agent provider base URL")
	fs.StringVar(&cfg.AgentAPIKey, "agent-api-key", "", "AI voice-agent provider API key")
	fs.StringVar(&cfg.FCMCredentialsFile, "fcm-credentials-file", "", "Firebase service-account JSON for operator push alerts")
	fs.StringVar(&cfg.AlertPushTokens, "alert-push-tokens", "", "comma-separated FCM tokens that receive operator alerts")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":             envPrefix + "DATA_DIR",
		"http-port":            envPrefix + "HTTP_PORT",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
		"tick-interval":        envPrefix + "TICK_INTERVAL",
		"webhook-base-url":     envPrefix + "WEBHOOK_BASE_URL",
		"webhook-jwt-secret":   envPrefix + "WEBHOOK_JWT_SECRET",
		"api-token-hash":       envPrefix + "API_TOKEN_HASH",
		"encryption-key":       envPrefix + "ENCRYPTION_KEY",
		"twilio-account-sid":   envPrefix + "TWILIO_ACCOUNT_SID",
		"twilio-auth-token":    envPrefix + "TWILIO_AUTH_TOKEN",
		"signalwire-space":     envPrefix + "SIGNALWIRE_SPACE",
		"signalwire-project":   envPrefix + "SIGNALWIRE_PROJECT",
		"signalwire-token":     envPrefix + "SIGNALWIRE_TOKEN",
		"agent-base-url":       envPrefix + "AGENT_BASE_URL",
		"agent-api-key":        envPrefix + "AGENT_API_KEY",
		"fcm-credentials-file": envPrefix + "FCM_CREDENTIALS_FILE",
		"alert-push-tokens":    envPrefix + "ALERT_PUSH_TOKENS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "tick-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.TickInterval = v
			}
		case "webhook-base-url":
			cfg.WebhookBaseURL = val
		case "webhook-jwt-secret":
			cfg.WebhookJWTSecret = val
		case "api-token-hash":
			cfg.APITokenHash = val
		case "encryption-key":
			cfg.EncryptionKey = val
		case "twilio-account-sid":
			cfg.TwilioAccountSID = val
		case "twilio-auth-token":
			cfg.TwilioAuthToken = val
		case "signalwire-space":
			cfg.SignalWireSpace = val
		case "signalwire-project":
			cfg.SignalWireProject = val
		case "signalwire-token":
			cfg.SignalWireToken = val
		case "agent-base-url":
			cfg.AgentBaseURL = val
		case "agent-api-key":
			cfg.AgentAPIKey = val
		case "fcm-credentials-file":
			cfg.FCMCredentialsFile = val
		case "alert-push-tokens":
			cfg.AlertPushTokens = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.TickInterval < time.Second {
		return fmt.Errorf("tick-interval must be at least 1s, got %s", c.TickInterval)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.WebhookBaseURL != "" && !strings.HasPrefix(c.WebhookBaseURL, "http") {
		return fmt.Errorf("webhook-base-url must be an absolute http(s) URL, got %q", c.WebhookBaseURL)
	}
	c.WebhookBaseURL = strings.TrimRight(c.WebhookBaseURL, "/")

	// Twilio credentials must both be set or both be empty.
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		return fmt.Errorf("twilio-account-sid and twilio-auth-token must both be provided or both be omitted")
	}

	return nil
}

// EncryptionKeyBytes returns the decoded 32-byte encryption key, or nil if
// no key is configured.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// WebhookSecretBytes returns the decoded webhook signing secret. If no
// secret is configured, it generates a random 32-byte key for the process
// lifetime; webhook tokens then do not survive a restart.
func (c *Config) WebhookSecretBytes() ([]byte, error) {
	if c.WebhookJWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating webhook secret: %w", err)
		}
		c.WebhookJWTSecret = hex.EncodeToString(key)
		slog.Warn("no webhook-jwt-secret configured, generated ephemeral key (in-flight callbacks will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.WebhookJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding webhook secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("webhook secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AlertTokens returns the parsed list of FCM registration tokens.
func (c *Config) AlertTokens() []string {
	if c.AlertPushTokens == "" {
		return nil
	}
	parts := strings.Split(c.AlertPushTokens, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
