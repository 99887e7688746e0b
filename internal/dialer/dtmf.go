package dialer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// defaultCallbackDelay applies when a campaign does not configure one.
const defaultCallbackDelay = 24 * time.Hour

// Digit actions configurable on a campaign keymap.
const (
	ActionTransfer = "transfer"
	ActionCallback = "callback"
	ActionDNC      = "dnc"
	ActionReplay   = "replay"
)

// DigitMapping is one entry of a campaign's digit keymap. The sub-options
// only apply to the callback action.
type DigitMapping struct {
	Action       string `json:"action"`
	CalendarHold bool   `json:"calendar_hold,omitempty"`
	SMSReminder  bool   `json:"sms_reminder,omitempty"`
	Requeue      bool   `json:"requeue,omitempty"`
}

// ParseDigitMap decodes a campaign's digit keymap. An empty map is valid;
// every digit is then treated as unrecognized.
func ParseDigitMap(raw string) (map[string]DigitMapping, error) {
	if raw == "" {
		return map[string]DigitMapping{}, nil
	}
	var m map[string]DigitMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parsing digit map: %w", err)
	}
	return m, nil
}

// DTMFResult reports how a keypress was handled. Replay asks the caller
// to re-serve the prompt; Applied is false when the digit was
// unrecognized or the item had already reached a terminal status.
type DTMFResult struct {
	Action  string
	Applied bool
	Replay  bool
	Message string
}

// DTMFHandler applies in-call keypresses to queue items per the campaign
// keymap. Transitions are idempotent: a digit arriving after the item is
// already terminal is logged and ignored, never an error.
type DTMFHandler struct {
	campaigns database.CampaignRepository
	items     database.QueueItemRepository
	leads     database.LeadRepository
	dnc       database.DNCRepository

	calendar CalendarScheduler
	sms      SMSSender

	logger *slog.Logger
	now    func() time.Time
}

// NewDTMFHandler creates a keypress handler.
func NewDTMFHandler(
	campaigns database.CampaignRepository,
	items database.QueueItemRepository,
	leads database.LeadRepository,
	dnc database.DNCRepository,
	calendar CalendarScheduler,
	sms SMSSender,
	logger *slog.Logger,
) *DTMFHandler {
	return &DTMFHandler{
		campaigns: campaigns,
		items:     items,
		leads:     leads,
		dnc:       dnc,
		calendar:  calendar,
		sms:       sms,
		logger:    logger.With("subsystem", "dtmf"),
		now:       time.Now,
	}
}

// HandleDigit applies one keypress to a queue item.
func (h *DTMFHandler) HandleDigit(ctx context.Context, queueItemID int64, digit string) (*DTMFResult, error) {
	item, err := h.items.GetByID(ctx, queueItemID)
	if err != nil {
		return nil, fmt.Errorf("loading queue item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("queue item %d not found", queueItemID)
	}

	campaign, err := h.campaigns.GetByID(ctx, item.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", item.CampaignID)
	}

	keymap, err := ParseDigitMap(campaign.DigitMap)
	if err != nil {
		return nil, err
	}

	mapping, ok := keymap[digit]
	if !ok {
		h.logger.Debug("unrecognized digit", "queue_item_id", item.ID, "digit", digit)
		return &DTMFResult{Applied: false, Message: "invalid input"}, nil
	}

	if err := h.items.SetDigit(ctx, item.ID, digit); err != nil {
		return nil, fmt.Errorf("recording digit: %w", err)
	}

	switch mapping.Action {
	case ActionTransfer:
		return h.applyTransfer(ctx, campaign, item)
	case ActionCallback:
		return h.applyCallback(ctx, campaign, item, mapping)
	case ActionDNC:
		return h.applyDNC(ctx, campaign, item)
	case ActionReplay:
		return &DTMFResult{Action: ActionReplay, Applied: true, Replay: true}, nil
	default:
		h.logger.Warn("digit mapped to unknown action",
			"campaign_id", campaign.ID,
			"digit", digit,
			"action", mapping.Action,
		)
		return &DTMFResult{Applied: false, Message: "invalid input"}, nil
	}
}

func (h *DTMFHandler) applyTransfer(ctx context.Context, campaign *models.Campaign, item *models.QueueItem) (*DTMFResult, error) {
	moved, err := h.items.MarkTerminal(ctx, item.ID, models.QueueStatusTransferred)
	if err != nil {
		return nil, fmt.Errorf("marking transferred: %w", err)
	}
	if !moved {
		h.logger.Info("transfer digit on terminal item", "queue_item_id", item.ID)
		return &DTMFResult{Action: ActionTransfer, Applied: false}, nil
	}

	if err := h.campaigns.AddCounters(ctx, campaign.ID, database.CounterDelta{Transfers: 1}); err != nil {
		return nil, fmt.Errorf("incrementing transfer counter: %w", err)
	}
	h.logger.Info("call transferred", "campaign_id", campaign.ID, "queue_item_id", item.ID)
	return &DTMFResult{Action: ActionTransfer, Applied: true}, nil
}

func (h *DTMFHandler) applyCallback(ctx context.Context, campaign *models.Campaign, item *models.QueueItem, mapping DigitMapping) (*DTMFResult, error) {
	moved, err := h.items.MarkTerminal(ctx, item.ID, models.QueueStatusCallback)
	if err != nil {
		return nil, fmt.Errorf("marking callback: %w", err)
	}
	if !moved {
		h.logger.Info("callback digit on terminal item", "queue_item_id", item.ID)
		return &DTMFResult{Action: ActionCallback, Applied: false}, nil
	}

	delay := defaultCallbackDelay
	if campaign.CallbackDelayMinutes > 0 {
		delay = time.Duration(campaign.CallbackDelayMinutes) * time.Minute
	}
	callbackAt := h.now().Add(delay)

	if mapping.Requeue {
		requeued := &models.QueueItem{
			CampaignID:  campaign.ID,
			LeadID:      item.LeadID,
			Destination: item.Destination,
			MaxAttempts: item.MaxAttempts,
			ScheduledAt: callbackAt,
		}
		if _, err := h.items.CreatePendingIfAbsent(ctx, requeued); err != nil {
			return nil, fmt.Errorf("enqueueing callback item: %w", err)
		}
	}

	if err := h.campaigns.AddCounters(ctx, campaign.ID, database.CounterDelta{Callbacks: 1}); err != nil {
		return nil, fmt.Errorf("incrementing callback counter: %w", err)
	}

	// Side effects run after the transition commits and never affect its
	// outcome.
	h.scheduleCallbackEffects(campaign, item, mapping, callbackAt)

	h.logger.Info("callback requested",
		"campaign_id", campaign.ID,
		"queue_item_id", item.ID,
		"callback_at", callbackAt.Format(time.RFC3339),
	)
	return &DTMFResult{Action: ActionCallback, Applied: true}, nil
}

// scheduleCallbackEffects fires the calendar hold and reminder SMS in the
// background, detached from the webhook request context.
func (h *DTMFHandler) scheduleCallbackEffects(campaign *models.Campaign, item *models.QueueItem, mapping DigitMapping, callbackAt time.Time) {
	campaignID, itemID, dest := campaign.ID, item.ID, item.Destination
	lead := campaign.ReminderLeadMinutes

	if mapping.CalendarHold && h.calendar != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.calendar.ScheduleHold(ctx, campaignID, itemID, callbackAt); err != nil {
				h.logger.Warn("calendar hold failed", "queue_item_id", itemID, "error", err)
			}
		}()
	}

	if mapping.SMSReminder && h.sms != nil {
		remindAt := callbackAt
		if lead > 0 {
			remindAt = callbackAt.Add(-time.Duration(lead) * time.Minute)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.sms.ScheduleReminder(ctx, campaignID, dest, remindAt); err != nil {
				h.logger.Warn("reminder sms failed", "queue_item_id", itemID, "error", err)
			}
		}()
	}
}

func (h *DTMFHandler) applyDNC(ctx context.Context, campaign *models.Campaign, item *models.QueueItem) (*DTMFResult, error) {
	moved, err := h.items.MarkTerminal(ctx, item.ID, models.QueueStatusDNC)
	if err != nil {
		return nil, fmt.Errorf("marking dnc: %w", err)
	}
	if !moved {
		h.logger.Info("dnc digit on terminal item", "queue_item_id", item.ID)
		return &DTMFResult{Action: ActionDNC, Applied: false}, nil
	}

	if err := h.dnc.Upsert(ctx, campaign.OwnerID, item.Destination, "dtmf"); err != nil {
		return nil, fmt.Errorf("adding do-not-call entry: %w", err)
	}
	if item.LeadID != nil {
		if err := h.leads.SetDoNotCall(ctx, *item.LeadID, true); err != nil {
			return nil, fmt.Errorf("flagging lead do-not-call: %w", err)
		}
	}
	if err := h.campaigns.AddCounters(ctx, campaign.ID, database.CounterDelta{DNCRequests: 1}); err != nil {
		return nil, fmt.Errorf("incrementing dnc counter: %w", err)
	}

	h.logger.Info("do-not-call requested",
		"campaign_id", campaign.ID,
		"queue_item_id", item.ID,
		"destination", item.Destination,
	)
	return &DTMFResult{Action: ActionDNC, Applied: true}, nil
}
