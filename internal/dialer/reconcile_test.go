package dialer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/provider"
)

func newTestReconciler(s *testStore, fake *fakeProvider) *Reconciler {
	return NewReconciler(s.campaigns, s.items, Registry{fake.Name(): fake}, slog.Default())
}

// markCalling dispatches an item into calling with a provider call id.
func (s *testStore) markCalling(t *testing.T, itemID int64, providerCallID string) {
	t.Helper()
	moved, err := s.items.MarkCalling(context.Background(), itemID, providerCallID, "+15550001111")
	if err != nil {
		t.Fatalf("MarkCalling() error: %v", err)
	}
	if !moved {
		t.Fatalf("MarkCalling() did not transition item %d", itemID)
	}
}

func TestSweepForceFailsHardStuckCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)

	stuck := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.markCalling(t, stuck.ID, "CA-stuck")
	s.rewindUpdatedAt(t, stuck.ID, "-6 minutes")

	fresh := s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)
	s.markCalling(t, fresh.ID, "CA-fresh")

	fake := &fakeProvider{}
	result, err := newTestReconciler(s, fake).Sweep(ctx, campaign)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result.ForceFailed != 1 {
		t.Errorf("ForceFailed = %d, want 1", result.ForceFailed)
	}

	got, _ := s.items.GetByID(ctx, stuck.ID)
	if got.Status != models.QueueStatusFailed {
		t.Errorf("stuck item status = %q, want failed", got.Status)
	}
	got, _ = s.items.GetByID(ctx, fresh.ID)
	if got.Status != models.QueueStatusCalling {
		t.Errorf("fresh item status = %q, want calling", got.Status)
	}

	reloaded, _ := s.campaigns.GetByID(ctx, campaign.ID)
	if reloaded.LastError == "" {
		t.Error("campaign should carry a last error hint after force-failing")
	}
}

func TestSweepReconcilesFromProviderLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)

	answered := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.markCalling(t, answered.ID, "CA-answered")
	s.rewindUpdatedAt(t, answered.ID, "-2 minutes")

	ringing := s.newQueueItem(t, campaign.ID, "+15551230002", models.QueueStatusPending)
	s.markCalling(t, ringing.ID, "CA-ringing")
	s.rewindUpdatedAt(t, ringing.ID, "-2 minutes")

	fake := &fakeProvider{statuses: map[string]*provider.CallStatus{
		"CA-answered": {Status: "completed", DurationSec: 30},
		"CA-ringing":  {Status: "ringing"},
	}}

	result, err := newTestReconciler(s, fake).Sweep(ctx, campaign)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result.Reconciled != 1 {
		t.Errorf("Reconciled = %d, want 1", result.Reconciled)
	}
	if result.ForceFailed != 0 {
		t.Errorf("ForceFailed = %d, want 0", result.ForceFailed)
	}

	got, _ := s.items.GetByID(ctx, answered.ID)
	if got.Status != models.QueueStatusAnswered {
		t.Errorf("answered item status = %q, want answered", got.Status)
	}
	if got.DurationSec != 30 {
		t.Errorf("answered item duration = %d, want 30", got.DurationSec)
	}
	got, _ = s.items.GetByID(ctx, ringing.ID)
	if got.Status != models.QueueStatusCalling {
		t.Errorf("ringing item status = %q, want calling", got.Status)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	campaign := s.newTestCampaign(t, models.CampaignStatusActive)

	item := s.newQueueItem(t, campaign.ID, "+15551230001", models.QueueStatusPending)
	s.markCalling(t, item.ID, "CA-001")
	s.rewindUpdatedAt(t, item.ID, "-6 minutes")

	r := newTestReconciler(s, &fakeProvider{})
	first, err := r.Sweep(ctx, campaign)
	if err != nil {
		t.Fatalf("first Sweep() error: %v", err)
	}
	if first.ForceFailed != 1 {
		t.Fatalf("first sweep ForceFailed = %d, want 1", first.ForceFailed)
	}

	second, err := r.Sweep(ctx, campaign)
	if err != nil {
		t.Fatalf("second Sweep() error: %v", err)
	}
	if second.ForceFailed != 0 || second.Reconciled != 0 {
		t.Errorf("second sweep = %+v, want no transitions", second)
	}
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		status   string
		duration int
		want     string
	}{
		{"completed", 30, models.QueueStatusAnswered},
		{"completed", 0, models.QueueStatusCompleted},
		{"busy", 0, models.QueueStatusNoAnswer},
		{"no-answer", 0, models.QueueStatusNoAnswer},
		{"failed", 0, models.QueueStatusFailed},
		{"canceled", 0, models.QueueStatusFailed},
	}
	for _, tt := range tests {
		if got := MapProviderStatus(tt.status, tt.duration); got != tt.want {
			t.Errorf("MapProviderStatus(%q, %d) = %q, want %q", tt.status, tt.duration, got, tt.want)
		}
	}
}
