package dialer

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/provider"
)

func TestStartDispatchesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	campaign.Pace = 2
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		t.Fatalf("updating campaign: %v", err)
	}
	s.newPoolNumber(t, "+15550001111")
	for _, dest := range []string{"+15551230001", "+15551230002", "+15551230003"} {
		s.newQueueItem(t, campaign.ID, dest, models.QueueStatusPending)
	}

	fake := &fakeProvider{}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Dispatched != 2 {
		t.Errorf("Dispatched = %d, want 2 (pace bound)", result.Dispatched)
	}
	if len(fake.placed) != 2 {
		t.Fatalf("provider saw %d placements, want 2", len(fake.placed))
	}

	req := fake.placed[0]
	if req.From != "+15550001111" {
		t.Errorf("From = %q, want the pool number", req.From)
	}
	if req.AudioURL != campaign.AudioURL {
		t.Errorf("AudioURL = %q, want %q", req.AudioURL, campaign.AudioURL)
	}
	if !strings.HasPrefix(req.StatusCallbackURL, "http://dial.test/v1/webhooks/status?token=") {
		t.Errorf("StatusCallbackURL = %q, want a signed webhook url", req.StatusCallbackURL)
	}
	if req.Metadata["tick_id"] == "" {
		t.Error("call metadata should carry the tick id")
	}

	calling, err := s.items.ListCalling(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListCalling() error: %v", err)
	}
	if len(calling) != 2 {
		t.Fatalf("%d items in calling, want 2", len(calling))
	}
	for _, item := range calling {
		if item.ProviderCallID == "" || item.CallerID == "" {
			t.Errorf("item %d missing dispatch fields: %+v", item.ID, item)
		}
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.CallsPlaced != 2 {
		t.Errorf("CallsPlaced = %d, want 2", reloaded.CallsPlaced)
	}

	number, _ := s.numbers.GetByNumber(ctx, "+15550001111")
	if number.DailyCalls != 2 {
		t.Errorf("number daily calls = %d, want 2", number.DailyCalls)
	}
}

func TestStartActivatesDraftCampaign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusDraft)
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	d := newTestDispatcher(s, &fakeProvider{})
	if _, err := d.Start(ctx, campaign.ID, StartOptions{}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.Status != models.CampaignStatusActive {
		t.Errorf("status = %q, want active", reloaded.Status)
	}
}

func TestStartTestModeKeepsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusDraft)
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)

	fake := &fakeProvider{}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{TestBatchSize: 1})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want the test batch of 1", result.Dispatched)
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.Status != models.CampaignStatusDraft {
		t.Errorf("status = %q, want draft after a test dispatch", reloaded.Status)
	}
}

func TestStartThrottledAtCapacity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusCalling)

	fake := &fakeProvider{}
	d := newTestDispatcher(s, fake)
	d.governor.cap = 1

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !result.Throttled {
		t.Errorf("result = %+v, want throttled", result)
	}
	if len(fake.placed) != 0 {
		t.Errorf("provider saw %d placements, want 0", len(fake.placed))
	}
}

func TestStartBreakerPausesCampaign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230099", models.QueueStatusPending)

	statuses := make([]string, 0, 10)
	for i := 0; i < 5; i++ {
		statuses = append(statuses, models.QueueStatusFailed)
	}
	for i := 0; i < 5; i++ {
		statuses = append(statuses, models.QueueStatusCompleted)
	}
	s.seedOutcomes(t, campaign.ID, statuses...)

	fake := &fakeProvider{}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !result.Paused {
		t.Fatalf("result = %+v, want paused by the breaker", result)
	}
	if len(fake.placed) != 0 {
		t.Errorf("provider saw %d placements, want 0 when tripped", len(fake.placed))
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.Status != models.CampaignStatusPaused {
		t.Errorf("status = %q, want paused", reloaded.Status)
	}
	if reloaded.LastError == "" {
		t.Error("campaign should record why it was paused")
	}
}

func TestStartOutsideCallWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	campaign.CallWindowStart = 9 * 60
	campaign.CallWindowEnd = 20 * 60
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		t.Fatalf("updating campaign: %v", err)
	}
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	d := newTestDispatcher(s, &fakeProvider{})
	d.now = func() time.Time {
		return time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	}

	if _, err := d.Start(ctx, campaign.ID, StartOptions{}); err == nil {
		t.Fatal("Start() should refuse outside the calling window")
	}

	result, err := d.Start(ctx, campaign.ID, StartOptions{BypassHours: true})
	if err != nil {
		t.Fatalf("Start() with bypass error: %v", err)
	}
	if result.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1 with hours bypassed", result.Dispatched)
	}
}

func TestStartRefusesWithoutPendingItems(t *testing.T) {
	s := newTestStore(t)
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")

	d := newTestDispatcher(s, &fakeProvider{})
	if _, err := d.Start(context.Background(), campaign.ID, StartOptions{}); err == nil {
		t.Fatal("Start() should refuse an empty queue")
	}
}

func TestStartRefusesCompletedCampaign(t *testing.T) {
	s := newTestStore(t)
	campaign := s.newTestCampaign(t, models.CampaignStatusCompleted)

	d := newTestDispatcher(s, &fakeProvider{})
	if _, err := d.Start(context.Background(), campaign.ID, StartOptions{}); err == nil {
		t.Fatal("Start() should refuse a completed campaign")
	}
}

func TestStartRefusesWithoutEligibleNumbers(t *testing.T) {
	s := newTestStore(t)
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	d := newTestDispatcher(s, &fakeProvider{})
	if _, err := d.Start(context.Background(), campaign.ID, StartOptions{}); err == nil {
		t.Fatal("Start() should refuse with an empty caller-id pool")
	}
}

func TestPlacementValidationFailureIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	item := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	fake := &fakeProvider{
		placeErr: provider.NewCallError(provider.BackendTwilio, provider.ErrorValidation, "invalid destination", nil),
	}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Failed != 1 || result.Dispatched != 0 {
		t.Errorf("result = %+v, want one failure", result)
	}

	got, _ := s.items.GetByID(ctx, item.ID)
	if got.Status != models.QueueStatusFailed {
		t.Errorf("item status = %q, want failed without retry", got.Status)
	}
}

func TestPlacementTransientFailureRetriesLater(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	item := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	fake := &fakeProvider{
		placeErr: provider.NewCallError(provider.BackendTwilio, provider.ErrorUnavailable, "connect timeout", nil),
	}
	d := newTestDispatcher(s, fake)

	if _, err := d.Start(ctx, campaign.ID, StartOptions{}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	got, _ := s.items.GetByID(ctx, item.ID)
	if got.Status != models.QueueStatusPending {
		t.Errorf("item status = %q, want pending for a later retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestPlacementAuthFailureDropsNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)

	fake := &fakeProvider{
		placeErr: provider.NewCallError(provider.BackendTwilio, provider.ErrorAuthorization, "caller id not verified", nil),
	}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	// The only pool number was dropped, so the second item had no caller id.
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 after the pool emptied", result.Skipped)
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if !strings.Contains(reloaded.LastError, "rejected") {
		t.Errorf("LastError = %q, want a caller-id rejection hint", reloaded.LastError)
	}
}

func TestPlacementRateLimitedIsCountedSeparately(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newPoolNumber(t, "+15550001111")
	item := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)

	fake := &fakeProvider{
		placeErr: provider.NewCallError(provider.BackendTwilio, provider.ErrorRateLimited, "too many requests", nil),
	}
	d := newTestDispatcher(s, fake)

	// Drive the batch loop directly so the backoff wrapper is not in the
	// path; exhausted rate-limit retries surface the same classified error.
	pool, err := d.eligiblePool(ctx, campaign, fake.Name())
	if err != nil {
		t.Fatalf("eligiblePool() error: %v", err)
	}
	result := &StartResult{}
	d.dispatchBatch(ctx, campaign, fake, fake, nil, []models.QueueItem{*item}, pool, "tick", slog.Default(), result)

	if result.Failed != 1 || result.RateLimited != 1 {
		t.Errorf("result = %+v, want 1 failed counted as rate limited", result)
	}

	got, _ := s.items.GetByID(ctx, item.ID)
	if got.Status != models.QueueStatusPending {
		t.Errorf("item status = %q, want pending for a later retry", got.Status)
	}
}

func TestDailyCapEnforcedWithinBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)
	s.newQueueItem(t, campaign.ID, "+15551230003", models.QueueStatusPending)

	n := &models.PhoneNumber{
		OwnerID:  1,
		Number:   "+15550001111",
		Provider: "twilio",
		Active:   true,
		DailyCap: 2,
	}
	if err := s.numbers.Create(ctx, n); err != nil {
		t.Fatalf("creating pool number: %v", err)
	}

	fake := &fakeProvider{}
	d := newTestDispatcher(s, fake)

	result, err := d.Start(ctx, campaign.ID, StartOptions{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Dispatched != 2 {
		t.Errorf("Dispatched = %d, want 2 before the cap bites", result.Dispatched)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 once the number is capped out", result.Skipped)
	}

	got, err := s.numbers.GetByNumber(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("GetByNumber() error: %v", err)
	}
	if got.DailyCalls != 2 {
		t.Errorf("DailyCalls = %d, want exactly the daily cap", got.DailyCalls)
	}
}

func TestStopRequeuesInFlightCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	a := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.markCalling(t, a.ID, "CA-001")
	b := s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)
	s.markCalling(t, b.ID, "CA-002")

	d := newTestDispatcher(s, &fakeProvider{})
	result, err := d.Stop(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if result.Requeued != 2 {
		t.Errorf("Requeued = %d, want 2", result.Requeued)
	}

	for _, id := range []int64{a.ID, b.ID} {
		got, _ := s.items.GetByID(ctx, id)
		if got.Status != models.QueueStatusPending {
			t.Errorf("item %d status = %q, want pending", id, got.Status)
		}
		if got.ProviderCallID != "" {
			t.Errorf("item %d should have its provider call id cleared", id)
		}
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.Status != models.CampaignStatusPaused {
		t.Errorf("status = %q, want paused", reloaded.Status)
	}
}

func TestInspectReportsProviderStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)
	item := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.markCalling(t, item.ID, "CA-001")

	fake := &fakeProvider{statuses: map[string]*provider.CallStatus{
		"CA-001": {Status: "ringing"},
	}}
	d := newTestDispatcher(s, fake)

	entries, err := d.Inspect(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("%d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.QueueItemID != item.ID || entry.ProviderStatus != "ringing" || entry.LookupError != "" {
		t.Errorf("entry = %+v, want a ringing lookup for item %d", entry, item.ID)
	}
}

func TestWithinCallWindow(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 8, 31, hour, 0, 0, 0, time.UTC)
	}
	tests := []struct {
		name       string
		start, end int
		now        time.Time
		want       bool
	}{
		{"inside", 9 * 60, 20 * 60, at(12), true},
		{"before", 9 * 60, 20 * 60, at(3), false},
		{"after", 9 * 60, 20 * 60, at(21), false},
		{"degenerate always open", 0, 0, at(3), true},
		{"overnight inside", 20 * 60, 2 * 60, at(23), true},
		{"overnight outside", 20 * 60, 2 * 60, at(12), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &models.Campaign{Timezone: "UTC", CallWindowStart: tt.start, CallWindowEnd: tt.end}
			got, err := withinCallWindow(c, tt.now)
			if err != nil {
				t.Fatalf("withinCallWindow() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("withinCallWindow() = %v, want %v", got, tt.want)
			}
		})
	}

	c := &models.Campaign{Timezone: "not/a-zone"}
	if _, err := withinCallWindow(c, at(12)); err == nil {
		t.Error("withinCallWindow() should reject an unknown timezone")
	}
}
