package dialer

import (
	"context"
	"log/slog"
	"time"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// Ticker periodically runs a dispatch tick for every active campaign,
// standing in for an external cron trigger.
type Ticker struct {
	campaigns  database.CampaignRepository
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// NewTicker creates the background campaign ticker.
func NewTicker(campaigns database.CampaignRepository, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Ticker {
	return &Ticker{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With("subsystem", "ticker"),
	}
}

// Run loops until ctx is cancelled. Per-campaign errors are logged and
// never stop the loop.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("campaign ticker started", "interval", t.interval)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("campaign ticker stopped")
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	active, err := t.campaigns.ListByStatus(ctx, models.CampaignStatusActive)
	if err != nil {
		t.logger.Error("listing active campaigns", "error", err)
		return
	}

	for i := range active {
		campaign := &active[i]
		result, err := t.dispatcher.Start(ctx, campaign.ID, StartOptions{})
		if err != nil {
			// Precondition failures (outside hours, empty queue) are
			// routine here; the next tick retries.
			t.logger.Debug("tick skipped", "campaign_id", campaign.ID, "reason", err)
			continue
		}
		if result.Dispatched > 0 || result.Paused || result.Throttled {
			t.logger.Info("tick complete",
				"campaign_id", campaign.ID,
				"dispatched", result.Dispatched,
				"failed", result.Failed,
				"throttled", result.Throttled,
				"paused", result.Paused,
			)
		}
	}
}
