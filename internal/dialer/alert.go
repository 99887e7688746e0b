package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alerter notifies operators about campaign health events. Alert delivery
// is best effort; the dispatcher never blocks on it.
type Alerter interface {
	Alert(ctx context.Context, severity string, campaignID int64, message string)
}

// LogAlerter writes alerts to the structured log. It is the default sink
// when no push credentials are configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a log-only alert sink.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.With("subsystem", "alerts")}
}

// Alert implements Alerter.
func (a *LogAlerter) Alert(_ context.Context, severity string, campaignID int64, message string) {
	level := slog.LevelWarn
	if severity == SeverityCritical {
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, "campaign alert",
		"severity", severity,
		"campaign_id", campaignID,
		"message", message,
	)
}

// FCMAlerter pushes campaign alerts to operator devices via Firebase
// Cloud Messaging.
type FCMAlerter struct {
	client *messaging.Client
	tokens []string
	logger *slog.Logger
}

// NewFCMAlerter initialises a Firebase app from the service-account JSON
// file at credentialsFile. If credentialsFile is empty, the SDK falls
// back to GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMAlerter(ctx context.Context, credentialsFile string, tokens []string, logger *slog.Logger) (*FCMAlerter, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	logger.Info("fcm alerter initialised", "tokens", len(tokens))
	return &FCMAlerter{
		client: client,
		tokens: tokens,
		logger: logger.With("subsystem", "alerts"),
	}, nil
}

// Alert implements Alerter. Each configured operator token receives a
// data message; individual delivery failures are logged and skipped.
func (a *FCMAlerter) Alert(ctx context.Context, severity string, campaignID int64, message string) {
	ttl := 5 * time.Minute
	for _, token := range a.tokens {
		msg := &messaging.Message{
			Token: token,
			Data: map[string]string{
				"type":        "campaign_alert",
				"severity":    severity,
				"campaign_id": strconv.FormatInt(campaignID, 10),
				"message":     message,
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
				TTL:      &ttl,
			},
		}

		id, err := a.client.Send(ctx, msg)
		if err != nil {
			if messaging.IsUnregistered(err) {
				a.logger.Warn("alert token no longer valid", "error", err)
				continue
			}
			a.logger.Error("alert push failed", "campaign_id", campaignID, "error", err)
			continue
		}
		a.logger.Debug("alert pushed", "message_id", id, "campaign_id", campaignID)
	}
}

// MultiAlerter fans an alert out to several sinks.
type MultiAlerter []Alerter

// Alert implements Alerter.
func (m MultiAlerter) Alert(ctx context.Context, severity string, campaignID int64, message string) {
	for _, a := range m {
		a.Alert(ctx, severity, campaignID, message)
	}
}
