package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialcast/dialcast/internal/api"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/metrics"
	"github.com/dialcast/dialcast/internal/provider"
	"github.com/dialcast/dialcast/internal/siptrunk"
	"github.com/dialcast/dialcast/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcast",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"tick_interval", cfg.TickInterval,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	campaigns := database.NewCampaignRepository(db)
	items := database.NewQueueItemRepository(db)
	numbers := database.NewPhoneNumberRepository(db)
	trunks := database.NewSipTrunkRepository(db)
	leads := database.NewLeadRepository(db)
	dnc := database.NewDNCRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Initialize encryptor for sensitive database fields (trunk passwords).
	var enc *database.Encryptor
	if keyBytes, err := cfg.EncryptionKeyBytes(); err != nil {
		slog.Error("failed to decode encryption key", "error", err)
		os.Exit(1)
	} else if keyBytes != nil {
		enc, err = database.NewEncryptor(keyBytes)
		if err != nil {
			slog.Error("failed to create encryptor", "error", err)
			os.Exit(1)
		}
		slog.Info("field encryption enabled")
	} else {
		slog.Warn("no encryption key configured, trunk passwords will be stored in plaintext")
	}

	// Webhook token signer.
	secret, err := cfg.WebhookSecretBytes()
	if err != nil {
		slog.Error("failed to decode webhook secret", "error", err)
		os.Exit(1)
	}
	signer := webhook.NewSigner(secret)

	// Telephony backends. Each is optional; campaigns needing an
	// unconfigured backend fail their start with an explicit error.
	registry := buildRegistry(cfg, logger)
	if len(registry) == 0 {
		slog.Warn("no telephony backend configured, dispatch will be refused")
	}

	// SIP trunk health checker for trunk-routed placement.
	var health provider.TrunkHealthChecker
	checker, err := siptrunk.NewChecker(logger)
	if err != nil {
		slog.Error("failed to create trunk health checker", "error", err)
		os.Exit(1)
	}
	defer checker.Close()
	health = checker

	// Operator alerting: always to the log, additionally via FCM when
	// credentials are configured.
	alerter := buildAlerter(appCtx, cfg, logger)

	reconciler := dialer.NewReconciler(campaigns, items, registry, logger)
	dispatcher := dialer.NewDispatcher(
		dialer.Repositories{Campaigns: campaigns, Items: items, Numbers: numbers, Trunks: trunks},
		registry,
		health,
		reconciler,
		alerter,
		signer,
		enc,
		cfg.WebhookBaseURL,
		logger,
	)
	dtmf := dialer.NewDTMFHandler(
		campaigns, items, leads, dnc,
		dialer.NewLogCalendarScheduler(logger),
		dialer.NewLogSMSSender(logger),
		logger,
	)

	// Prometheus collector gathers from the store at scrape time.
	prometheus.MustRegister(metrics.NewCollector(campaigns, items, time.Now()))

	// Background ticker drives active campaigns between manual triggers.
	ticker := dialer.NewTicker(campaigns, dispatcher, cfg.TickInterval, logger)
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker.Run(appCtx)
	}()

	// HTTP server using the api package.
	handler := api.NewServer(api.Deps{
		Config:     cfg,
		Campaigns:  campaigns,
		Items:      items,
		Numbers:    numbers,
		Trunks:     trunks,
		DNC:        dnc,
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		DTMF:       dtmf,
		Signer:     signer,
		Encryptor:  enc,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown: drain the ticker first so no new calls go out,
	// then close the HTTP server.
	slog.Info("shutting down")
	appCancel()
	select {
	case <-tickerDone:
	case <-time.After(15 * time.Second):
		slog.Warn("ticker did not stop in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialcast stopped")
}

// buildRegistry wires every backend whose credentials are configured.
func buildRegistry(cfg *config.Config, logger *slog.Logger) dialer.Registry {
	registry := dialer.Registry{}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		registry[provider.BackendTwilio] = provider.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger)
		slog.Info("twilio backend configured")
	}
	if cfg.SignalWireSpace != "" && cfg.SignalWireProject != "" && cfg.SignalWireToken != "" {
		registry[provider.BackendSignalWire] = provider.NewSignalWireProvider(cfg.SignalWireSpace, cfg.SignalWireProject, cfg.SignalWireToken, logger)
		slog.Info("signalwire backend configured")
	}
	if cfg.AgentBaseURL != "" {
		registry[provider.BackendAgent] = provider.NewAgentProvider(cfg.AgentBaseURL, cfg.AgentAPIKey, logger)
		slog.Info("agent backend configured")
	}

	return registry
}

// buildAlerter always includes the log sink and adds FCM push when
// credentials are configured.
func buildAlerter(ctx context.Context, cfg *config.Config, logger *slog.Logger) dialer.Alerter {
	sinks := dialer.MultiAlerter{dialer.NewLogAlerter(logger)}

	if cfg.FCMCredentialsFile != "" {
		fcm, err := dialer.NewFCMAlerter(ctx, cfg.FCMCredentialsFile, cfg.AlertTokens(), logger)
		if err != nil {
			slog.Error("failed to initialise fcm alerter, falling back to log only", "error", err)
		} else {
			sinks = append(sinks, fcm)
		}
	}

	return sinks
}
