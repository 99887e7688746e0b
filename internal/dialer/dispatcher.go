package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/provider"
	"github.com/dialcast/dialcast/internal/webhook"
)

// interCallDelay spaces successive placements within a tick so a batch
// does not burst the provider API.
const interCallDelay = 100 * time.Millisecond

// StartOptions modify a dispatch trigger.
type StartOptions struct {
	// TestBatchSize, when positive, caps the batch and dispatches without
	// flipping the campaign to active.
	TestBatchSize int
	// BypassHours skips the calling-hours window check.
	BypassHours bool
}

// StartResult reports what one dispatch tick did.
type StartResult struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	// RateLimited counts failures where the provider throttled us even
	// after backoff, so rate-limit pressure is visible apart from
	// genuine call failures.
	RateLimited int    `json:"rate_limited"`
	Throttled   bool   `json:"throttled"`
	Paused      bool   `json:"paused"`
	Reason      string `json:"reason,omitempty"`

	SweepForceFailed int `json:"sweep_force_failed"`
	SweepReconciled  int `json:"sweep_reconciled"`
}

// StopResult reports a stop action.
type StopResult struct {
	Requeued int `json:"requeued"`
}

// InspectEntry is one in-flight call with its live provider status.
type InspectEntry struct {
	QueueItemID    int64  `json:"queue_item_id"`
	Destination    string `json:"destination"`
	ProviderCallID string `json:"provider_call_id"`
	LocalStatus    string `json:"local_status"`
	ProviderStatus string `json:"provider_status,omitempty"`
	DurationSec    int    `json:"duration_sec,omitempty"`
	LookupError    string `json:"lookup_error,omitempty"`
}

// Dispatcher runs the per-tick batch dispatch for campaigns. All shared
// state lives in the store; concurrent ticks for the same campaign
// resolve through the store's conditional status transitions.
type Dispatcher struct {
	campaigns database.CampaignRepository
	items     database.QueueItemRepository
	numbers   database.PhoneNumberRepository
	trunks    database.SipTrunkRepository

	registry   Registry
	health     provider.TrunkHealthChecker
	reconciler *Reconciler
	governor   *Governor
	breaker    *Breaker
	alerter    Alerter
	signer     *webhook.Signer
	encryptor  *database.Encryptor

	webhookBase string
	limiter     *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	stops map[int64]bool
}

// Repositories bundles the store interfaces the dispatcher needs.
type Repositories struct {
	Campaigns database.CampaignRepository
	Items     database.QueueItemRepository
	Numbers   database.PhoneNumberRepository
	Trunks    database.SipTrunkRepository
}

// NewDispatcher wires the dispatch loop. health, alerter and encryptor
// may be nil; signer and webhookBase are required for webhook
// correlation.
func NewDispatcher(
	db Repositories,
	registry Registry,
	health provider.TrunkHealthChecker,
	reconciler *Reconciler,
	alerter Alerter,
	signer *webhook.Signer,
	encryptor *database.Encryptor,
	webhookBase string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		campaigns:   db.Campaigns,
		items:       db.Items,
		numbers:     db.Numbers,
		trunks:      db.Trunks,
		registry:    registry,
		health:      health,
		reconciler:  reconciler,
		governor:    NewGovernor(db.Items),
		breaker:     NewBreaker(db.Items),
		alerter:     alerter,
		signer:      signer,
		encryptor:   encryptor,
		webhookBase: webhookBase,
		limiter:     rate.NewLimiter(rate.Every(interCallDelay), 1),
		logger:      logger.With("subsystem", "dispatch"),
		now:         time.Now,
		stops:       map[int64]bool{},
	}
}

// Start runs one dispatch tick for a campaign. It validates campaign
// preconditions, sweeps stuck calls, consults the breaker and governor,
// then dispatches a batch in FIFO order of scheduled time.
func (d *Dispatcher) Start(ctx context.Context, campaignID int64, opts StartOptions) (*StartResult, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", campaignID)
	}
	if campaign.Status == models.CampaignStatusCompleted {
		return nil, fmt.Errorf("campaign %d is completed", campaignID)
	}

	d.clearStop(campaignID)

	// Tick id correlates this batch's log lines and call metadata.
	tickID := uuid.NewString()
	logger := d.logger.With("tick_id", tickID, "campaign_id", campaignID)

	result := &StartResult{}

	// Clean up stuck calls first so the governor sees accurate in-flight
	// counts.
	sweep, err := d.reconciler.Sweep(ctx, campaign)
	if err != nil {
		return nil, err
	}
	result.SweepForceFailed = sweep.ForceFailed
	result.SweepReconciled = sweep.Reconciled

	if err := d.checkPreconditions(ctx, campaign, opts); err != nil {
		return nil, err
	}

	reading, err := d.breaker.Evaluate(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch reading.Decision {
	case BreakerTripped:
		reason := fmt.Sprintf("failure rate %.0f%% over last %d calls exceeds %.0f%%; campaign paused",
			reading.FailureRate*100, reading.Sample, breakerPauseRate*100)
		if err := d.campaigns.SetStatus(ctx, campaignID, models.CampaignStatusPaused); err != nil {
			return nil, fmt.Errorf("pausing campaign: %w", err)
		}
		if err := d.campaigns.RecordError(ctx, campaignID, reason); err != nil {
			return nil, fmt.Errorf("recording pause reason: %w", err)
		}
		d.alert(ctx, SeverityCritical, campaignID, reason)
		result.Paused = true
		result.Reason = reason
		return result, nil
	case BreakerWarn:
		d.alert(ctx, SeverityWarning, campaignID, fmt.Sprintf(
			"failure rate %.0f%% over last %d calls", reading.FailureRate*100, reading.Sample))
	}

	pace := campaign.Pace
	if pace <= 0 {
		pace = 1
	}
	batch, inFlight, err := d.governor.Admit(ctx, campaignID, pace)
	if err != nil {
		return nil, err
	}
	if batch == 0 {
		result.Throttled = true
		result.Reason = fmt.Sprintf("%d calls already in flight", inFlight)
		return result, nil
	}
	if opts.TestBatchSize > 0 && opts.TestBatchSize < batch {
		batch = opts.TestBatchSize
	}

	items, err := d.items.ListPending(ctx, campaignID, batch)
	if err != nil {
		return nil, fmt.Errorf("listing pending items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("campaign %d has no pending queue items", campaignID)
	}

	prov, err := d.registry.ForCampaign(campaign)
	if err != nil {
		return nil, err
	}

	pool, err := d.eligiblePool(ctx, campaign, prov.Name())
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("campaign %d has no eligible caller-id numbers", campaignID)
	}

	trunk, err := d.trunkRoute(ctx, campaign, prov.Name())
	if err != nil {
		return nil, err
	}

	placer := provider.NewTrunkFallbackPlacer(
		provider.NewRetryingPlacer(prov, d.logger),
		d.health,
		&trunkAuthRecorder{numbers: d.numbers, logger: d.logger},
		d.logger,
	)

	d.dispatchBatch(ctx, campaign, prov, placer, trunk, items, pool, tickID, logger, result)

	if result.Dispatched > 0 {
		if err := d.campaigns.AddCounters(ctx, campaignID, database.CounterDelta{CallsPlaced: int64(result.Dispatched)}); err != nil {
			return nil, fmt.Errorf("updating campaign counters: %w", err)
		}
	}

	// Test-mode dispatch leaves the campaign status alone.
	if opts.TestBatchSize == 0 && campaign.Status != models.CampaignStatusActive {
		if err := d.campaigns.SetStatus(ctx, campaignID, models.CampaignStatusActive); err != nil {
			return nil, fmt.Errorf("activating campaign: %w", err)
		}
	}

	return result, nil
}

// dispatchBatch places calls for the batch in FIFO order, spacing them
// with the inter-call limiter and honoring a stop request between items.
func (d *Dispatcher) dispatchBatch(
	ctx context.Context,
	campaign *models.Campaign,
	prov provider.CallProvider,
	placer provider.CallPlacer,
	trunk *provider.TrunkRoute,
	items []models.QueueItem,
	pool []models.PhoneNumber,
	tickID string,
	logger *slog.Logger,
	result *StartResult,
) {
	usage := BatchUsage{}
	selectOpts := SelectOptions{
		LocalPresence: campaign.LocalPresence,
		Rotation:      campaign.NumberRotation,
	}
	today := d.now().Format("2006-01-02")

	for i := range items {
		item := &items[i]

		if d.stopRequested(campaign.ID) {
			logger.Info("stop requested, halting batch", "dispatched", result.Dispatched)
			return
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		number := d.pickCallerID(campaign, item.Destination, pool, selectOpts, usage)
		if number == nil {
			result.Skipped++
			logger.Warn("no eligible caller id for destination",
				"queue_item_id", item.ID,
				"destination", item.Destination,
			)
			continue
		}

		req, err := d.buildRequest(campaign, item, number, trunk, tickID)
		if err != nil {
			result.Failed++
			logger.Error("building call request", "queue_item_id", item.ID, "error", err)
			continue
		}

		placement, err := placer.PlaceCall(ctx, req)
		if err != nil {
			result.Failed++
			if provider.Classify(err) == provider.ErrorRateLimited {
				result.RateLimited++
			}
			pool = d.handlePlacementFailure(ctx, campaign, item, number, pool, err)
			continue
		}

		moved, err := d.items.MarkCalling(ctx, item.ID, placement.ProviderCallID, number.Number)
		if err != nil {
			result.Failed++
			logger.Error("marking item calling", "queue_item_id", item.ID, "error", err)
			continue
		}
		if !moved {
			// Another tick dispatched this item concurrently. The call was
			// placed twice; tolerate and continue.
			logger.Warn("duplicate dispatch detected",
				"queue_item_id", item.ID,
				"provider_call_id", placement.ProviderCallID,
			)
			continue
		}

		result.Dispatched++
		usage.Record(number.ID)
		number.DailyCalls++
		if err := d.numbers.IncrementDailyUsage(ctx, number.ID, today); err != nil {
			logger.Error("incrementing number usage", "number_id", number.ID, "error", err)
		}

		logger.Info("call dispatched",
			"queue_item_id", item.ID,
			"backend", prov.Name(),
			"provider_call_id", placement.ProviderCallID,
			"from", number.Number,
			"to", item.Destination,
		)

		// Drop a number from the rest of the batch once it hits its
		// daily cap; ListEligible only filters at pool-build time.
		if number.DailyCap > 0 && number.DailyCalls >= number.DailyCap {
			logger.Info("caller id reached daily cap",
				"number_id", number.ID,
				"number", number.Number,
			)
			kept := pool[:0]
			for j := range pool {
				if pool[j].ID != number.ID {
					kept = append(kept, pool[j])
				}
			}
			pool = kept
		}
	}
}

// pickCallerID returns the outbound number for one call, honoring the
// fixed caller-id mode when configured.
func (d *Dispatcher) pickCallerID(campaign *models.Campaign, destination string, pool []models.PhoneNumber, opts SelectOptions, usage BatchUsage) *models.PhoneNumber {
	if campaign.CallerIDMode == "fixed" && campaign.FixedCallerID != "" {
		for i := range pool {
			if pool[i].Number == campaign.FixedCallerID {
				return &pool[i]
			}
		}
		return nil
	}
	return SelectCallerID(destination, pool, opts, usage)
}

// buildRequest assembles the provider call request, minting the webhook
// correlation token. Numbers that previously failed trunk auth skip the
// trunk route.
func (d *Dispatcher) buildRequest(campaign *models.Campaign, item *models.QueueItem, number *models.PhoneNumber, trunk *provider.TrunkRoute, tickID string) (provider.CallRequest, error) {
	token, err := d.signer.Sign(item.ID, campaign.ID)
	if err != nil {
		return provider.CallRequest{}, err
	}

	req := provider.CallRequest{
		From:              number.Number,
		To:                item.Destination,
		AudioURL:          campaign.AudioURL,
		AgentScriptID:     campaign.AgentScriptID,
		StatusCallbackURL: d.webhookBase + "/v1/webhooks/status?token=" + token,
		DTMFCallbackURL:   d.webhookBase + "/v1/webhooks/dtmf?token=" + token,
		MachineDetection:  campaign.AMDEnabled,
		Metadata: map[string]string{
			"queue_item_id": strconv.FormatInt(item.ID, 10),
			"campaign_id":   strconv.FormatInt(campaign.ID, 10),
			"tick_id":       tickID,
		},
	}
	if trunk != nil && !number.TrunkAuthFailed {
		req.Trunk = trunk
	}
	return req, nil
}

// handlePlacementFailure absorbs a per-call error into queue item state
// and records a campaign-level last error when the failure looks
// systemic. Authorization failures also drop the number from the rest of
// the batch; returns the possibly shrunken pool.
func (d *Dispatcher) handlePlacementFailure(
	ctx context.Context,
	campaign *models.Campaign,
	item *models.QueueItem,
	number *models.PhoneNumber,
	pool []models.PhoneNumber,
	callErr error,
) []models.PhoneNumber {
	class := provider.Classify(callErr)
	attempts := item.Attempts + 1

	next := models.QueueStatusPending
	if attempts >= item.MaxAttempts || class == provider.ErrorValidation {
		next = models.QueueStatusFailed
	}
	if err := d.items.RecordAttemptFailure(ctx, item.ID, attempts, next); err != nil {
		d.logger.Error("recording attempt failure", "queue_item_id", item.ID, "error", err)
	}

	d.logger.Warn("call placement failed",
		"campaign_id", campaign.ID,
		"queue_item_id", item.ID,
		"class", class,
		"error", callErr,
	)

	switch class {
	case provider.ErrorAuthorization:
		msg := fmt.Sprintf("caller ID %s was rejected by the provider; verify the number is owned by the account", number.Number)
		if err := d.campaigns.RecordError(ctx, campaign.ID, msg); err != nil {
			d.logger.Error("recording campaign error", "campaign_id", campaign.ID, "error", err)
		}
		kept := pool[:0]
		for i := range pool {
			if pool[i].ID != number.ID {
				kept = append(kept, pool[i])
			}
		}
		return kept
	case provider.ErrorUnavailable:
		msg := "provider is unavailable; calls will be retried"
		if err := d.campaigns.RecordError(ctx, campaign.ID, msg); err != nil {
			d.logger.Error("recording campaign error", "campaign_id", campaign.ID, "error", err)
		}
	}
	return pool
}

// checkPreconditions validates campaign-level requirements that abort a
// start action with an explicit error.
func (d *Dispatcher) checkPreconditions(ctx context.Context, campaign *models.Campaign, opts StartOptions) error {
	if campaign.AudioURL == "" && campaign.AgentScriptID == "" {
		return fmt.Errorf("campaign %d has neither broadcast audio nor an agent script configured", campaign.ID)
	}

	if !opts.BypassHours {
		ok, err := withinCallWindow(campaign, d.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("current time is outside the campaign calling window (%s-%s %s)",
				minutesClock(campaign.CallWindowStart), minutesClock(campaign.CallWindowEnd), campaign.Timezone)
		}
	}

	pending, err := d.items.CountByStatus(ctx, campaign.ID, models.QueueStatusPending)
	if err != nil {
		return fmt.Errorf("counting pending items: %w", err)
	}
	if pending == 0 {
		return fmt.Errorf("campaign %d has no pending queue items", campaign.ID)
	}
	return nil
}

// eligiblePool loads the caller-id pool, restricting audio campaigns to
// numbers whose provider affinity can play audio directly.
func (d *Dispatcher) eligiblePool(ctx context.Context, campaign *models.Campaign, backend provider.Backend) ([]models.PhoneNumber, error) {
	today := d.now().Format("2006-01-02")
	pool, err := d.numbers.ListEligible(ctx, campaign.OwnerID, today)
	if err != nil {
		return nil, fmt.Errorf("listing eligible numbers: %w", err)
	}

	if backend == provider.BackendAgent {
		return pool, nil
	}
	kept := pool[:0]
	for i := range pool {
		if provider.SupportsAudioPlayback(provider.Backend(pool[i].Provider)) {
			kept = append(kept, pool[i])
		}
	}
	return kept, nil
}

// trunkRoute loads the active trunk for the campaign's backend, when the
// campaign opts into trunk routing. Nil means direct API placement.
func (d *Dispatcher) trunkRoute(ctx context.Context, campaign *models.Campaign, backend provider.Backend) (*provider.TrunkRoute, error) {
	if !campaign.SipTrunkEnabled {
		return nil, nil
	}
	trunk, err := d.trunks.ActiveForProvider(ctx, campaign.OwnerID, string(backend))
	if err != nil {
		return nil, fmt.Errorf("loading trunk config: %w", err)
	}
	if trunk == nil {
		return nil, nil
	}

	password := trunk.Password
	if d.encryptor != nil && password != "" {
		password, err = d.encryptor.Decrypt(password)
		if err != nil {
			return nil, fmt.Errorf("decrypting trunk password: %w", err)
		}
	}

	return &provider.TrunkRoute{
		SID:       trunk.TrunkSID,
		Host:      trunk.Host,
		Port:      trunk.Port,
		Transport: trunk.Transport,
		Username:  trunk.Username,
		Password:  password,
	}, nil
}

// Stop halts further dispatch for a campaign and requeues items still in
// calling back to pending. Calls already accepted by a provider run to
// completion.
func (d *Dispatcher) Stop(ctx context.Context, campaignID int64) (*StopResult, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", campaignID)
	}

	d.requestStop(campaignID)

	calling, err := d.items.ListCalling(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing in-flight items: %w", err)
	}

	result := &StopResult{}
	for i := range calling {
		moved, err := d.items.RequeueFromCalling(ctx, calling[i].ID)
		if err != nil {
			return nil, fmt.Errorf("requeueing item %d: %w", calling[i].ID, err)
		}
		if moved {
			result.Requeued++
		}
	}

	if err := d.campaigns.SetStatus(ctx, campaignID, models.CampaignStatusPaused); err != nil {
		return nil, fmt.Errorf("pausing campaign: %w", err)
	}

	d.logger.Info("campaign stopped", "campaign_id", campaignID, "requeued", result.Requeued)
	return result, nil
}

// Inspect fetches live provider status for every in-flight call of a
// campaign. Lookup failures are reported per entry, not as a whole.
func (d *Dispatcher) Inspect(ctx context.Context, campaignID int64) ([]InspectEntry, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d not found", campaignID)
	}

	calling, err := d.items.ListCalling(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing in-flight items: %w", err)
	}

	prov, provErr := d.registry.ForCampaign(campaign)

	entries := make([]InspectEntry, 0, len(calling))
	for i := range calling {
		item := &calling[i]
		entry := InspectEntry{
			QueueItemID:    item.ID,
			Destination:    item.Destination,
			ProviderCallID: item.ProviderCallID,
			LocalStatus:    item.Status,
		}
		switch {
		case item.ProviderCallID == "":
			entry.LookupError = "no provider call id"
		case provErr != nil:
			entry.LookupError = provErr.Error()
		default:
			status, err := prov.GetCallStatus(ctx, item.ProviderCallID)
			if err != nil {
				entry.LookupError = err.Error()
			} else {
				entry.ProviderStatus = status.Status
				entry.DurationSec = status.DurationSec
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Dispatcher) alert(ctx context.Context, severity string, campaignID int64, message string) {
	if d.alerter != nil {
		d.alerter.Alert(ctx, severity, campaignID, message)
	}
}

func (d *Dispatcher) requestStop(campaignID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops[campaignID] = true
}

func (d *Dispatcher) clearStop(campaignID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stops, campaignID)
}

func (d *Dispatcher) stopRequested(campaignID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops[campaignID]
}

// withinCallWindow reports whether now falls inside the campaign's
// calling-hours window in its configured timezone. A window with
// start > end spans midnight.
func withinCallWindow(c *models.Campaign, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading campaign timezone %q: %w", c.Timezone, err)
	}
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	if c.CallWindowStart == c.CallWindowEnd {
		// Degenerate window means always open.
		return true, nil
	}
	if c.CallWindowStart < c.CallWindowEnd {
		return minutes >= c.CallWindowStart && minutes < c.CallWindowEnd, nil
	}
	return minutes >= c.CallWindowStart || minutes < c.CallWindowEnd, nil
}

// minutesClock renders minutes-from-midnight as HH:MM for error messages.
func minutesClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// trunkAuthRecorder persists the soft trunk-rejection signal on the
// phone number record.
type trunkAuthRecorder struct {
	numbers database.PhoneNumberRepository
	logger  *slog.Logger
}

// RecordTrunkAuthFailure implements provider.TrunkAuthRecorder.
func (r *trunkAuthRecorder) RecordTrunkAuthFailure(ctx context.Context, fromNumber string) {
	number, err := r.numbers.GetByNumber(ctx, fromNumber)
	if err != nil || number == nil {
		r.logger.Warn("cannot record trunk auth failure", "from", fromNumber, "error", err)
		return
	}
	if err := r.numbers.SetTrunkAuthFailed(ctx, number.ID, true); err != nil {
		r.logger.Warn("cannot record trunk auth failure", "from", fromNumber, "error", err)
	}
}
