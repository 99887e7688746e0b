package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// Sweep tiers. Webhooks can be lost, so calls stuck in calling are first
// reconciled against the provider's lookup endpoint and, past the hard
// timeout, force-failed.
const (
	hardStuckTimeout = 5 * time.Minute
	softStuckTimeout = 90 * time.Second
)

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	ForceFailed int
	Reconciled  int
}

// Reconciler recovers queue items whose terminal webhook never arrived.
// Safe to run on every stats poll and before every dispatch tick; a pass
// over unchanged state produces no transitions.
type Reconciler struct {
	campaigns database.CampaignRepository
	items     database.QueueItemRepository
	registry  Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a sweep over the queue item store.
func NewReconciler(campaigns database.CampaignRepository, items database.QueueItemRepository, registry Registry, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		campaigns: campaigns,
		items:     items,
		registry:  registry,
		logger:    logger.With("subsystem", "sweep"),
		now:       time.Now,
	}
}

// Sweep runs both tiers for one campaign.
func (r *Reconciler) Sweep(ctx context.Context, campaign *models.Campaign) (SweepResult, error) {
	var result SweepResult
	now := r.now()

	// Hard tier: anything stuck past the hard timeout is gone; the
	// provider would have delivered a webhook or answered a lookup by now.
	stuck, err := r.items.ListStuck(ctx, campaign.ID, now.Add(-hardStuckTimeout))
	if err != nil {
		return result, fmt.Errorf("listing stuck items: %w", err)
	}
	for i := range stuck {
		item := &stuck[i]
		moved, err := r.items.MarkTerminalFromCalling(ctx, item.ID, models.QueueStatusFailed, 0)
		if err != nil {
			return result, fmt.Errorf("force-failing item %d: %w", item.ID, err)
		}
		if !moved {
			continue
		}
		result.ForceFailed++
		r.logger.Warn("force-failed stuck call",
			"campaign_id", campaign.ID,
			"queue_item_id", item.ID,
			"provider_call_id", item.ProviderCallID,
		)
	}
	if result.ForceFailed > 0 {
		msg := fmt.Sprintf("%d call(s) timed out with no status update; check that the caller ID is verified with the provider", result.ForceFailed)
		if err := r.campaigns.RecordError(ctx, campaign.ID, msg); err != nil {
			return result, fmt.Errorf("recording campaign error: %w", err)
		}
	}

	// Soft tier: ask the provider directly for calls old enough that the
	// webhook is likely lost but young enough to still be in flight.
	soft, err := r.items.ListStuck(ctx, campaign.ID, now.Add(-softStuckTimeout))
	if err != nil {
		return result, fmt.Errorf("listing soft-stuck items: %w", err)
	}

	prov, provErr := r.registry.ForCampaign(campaign)
	for i := range soft {
		item := &soft[i]
		if item.ProviderCallID == "" {
			continue
		}
		if provErr != nil {
			// No backend to ask; the hard tier will catch these later.
			break
		}

		status, err := prov.GetCallStatus(ctx, item.ProviderCallID)
		if err != nil {
			r.logger.Warn("status lookup failed",
				"queue_item_id", item.ID,
				"provider_call_id", item.ProviderCallID,
				"error", err,
			)
			continue
		}
		if !status.Terminal() {
			continue
		}

		local := MapProviderStatus(status.Status, status.DurationSec)
		moved, err := r.items.MarkTerminalFromCalling(ctx, item.ID, local, status.DurationSec)
		if err != nil {
			return result, fmt.Errorf("reconciling item %d: %w", item.ID, err)
		}
		if !moved {
			continue
		}
		result.Reconciled++
		r.logger.Info("reconciled call from provider lookup",
			"campaign_id", campaign.ID,
			"queue_item_id", item.ID,
			"status", local,
		)
	}

	return result, nil
}

// MapProviderStatus converts a backend-normalized terminal status into the
// local queue item status. A connected duration means someone answered.
func MapProviderStatus(status string, durationSec int) string {
	if durationSec > 0 {
		return models.QueueStatusAnswered
	}
	switch status {
	case "completed":
		return models.QueueStatusCompleted
	case "busy", "no-answer":
		return models.QueueStatusNoAnswer
	default:
		return models.QueueStatusFailed
	}
}
