package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"golang.org/x/time/rate"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/provider"
	"github.com/dialcast/dialcast/internal/webhook"
)

// testStore bundles a temporary database with its repositories.
type testStore struct {
	db        *database.DB
	campaigns database.CampaignRepository
	items     database.QueueItemRepository
	numbers   database.PhoneNumberRepository
	trunks    database.SipTrunkRepository
	leads     database.LeadRepository
	dnc       database.DNCRepository
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &testStore{
		db:        db,
		campaigns: database.NewCampaignRepository(db),
		items:     database.NewQueueItemRepository(db),
		numbers:   database.NewPhoneNumberRepository(db),
		trunks:    database.NewSipTrunkRepository(db),
		leads:     database.NewLeadRepository(db),
		dnc:       database.NewDNCRepository(db),
	}
}

// newTestCampaign inserts an always-dispatchable audio campaign.
func (s *testStore) newTestCampaign(t *testing.T, status string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		OwnerID:      1,
		Name:         "spring promo",
		Status:       status,
		Timezone:     "UTC",
		Pace:         10,
		CallerIDMode: "pool",
		AudioURL:     "https://cdn.example.com/promo.mp3",
		MaxAttempts:  3,
	}
	if err := s.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("creating campaign: %v", err)
	}
	return c
}

// newPoolNumber inserts an eligible rotation pool number.
func (s *testStore) newPoolNumber(t *testing.T, number string) *models.PhoneNumber {
	t.Helper()
	n := &models.PhoneNumber{
		OwnerID:  1,
		Number:   number,
		Provider: "twilio",
		Active:   true,
		DailyCap: 200,
	}
	if err := s.numbers.Create(context.Background(), n); err != nil {
		t.Fatalf("creating pool number: %v", err)
	}
	return n
}

// newQueueItem inserts a queue item in the given status.
func (s *testStore) newQueueItem(t *testing.T, campaignID int64, destination, status string) *models.QueueItem {
	t.Helper()
	item := &models.QueueItem{
		CampaignID:  campaignID,
		Destination: destination,
		Status:      status,
		MaxAttempts: 3,
	}
	if err := s.items.Create(context.Background(), item); err != nil {
		t.Fatalf("creating queue item: %v", err)
	}
	return item
}

// rewindUpdatedAt pushes a queue item's updated_at into the past.
func (s *testStore) rewindUpdatedAt(t *testing.T, itemID int64, offset string) {
	t.Helper()
	_, err := s.db.Exec(
		`UPDATE queue_items SET updated_at = datetime('now', ?) WHERE id = ?`,
		offset, itemID)
	if err != nil {
		t.Fatalf("rewinding updated_at: %v", err)
	}
}

// fakeProvider is an in-memory telephony backend.
type fakeProvider struct {
	backend  provider.Backend
	placeErr error
	placed   []provider.CallRequest
	statuses map[string]*provider.CallStatus
	nextID   int
}

func (f *fakeProvider) Name() provider.Backend {
	if f.backend == "" {
		return provider.BackendTwilio
	}
	return f.backend
}

func (f *fakeProvider) PlaceCall(_ context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.nextID++
	return &provider.CallResult{ProviderCallID: fmt.Sprintf("CA%03d", f.nextID)}, nil
}

func (f *fakeProvider) GetCallStatus(_ context.Context, providerCallID string) (*provider.CallStatus, error) {
	if s, ok := f.statuses[providerCallID]; ok {
		return s, nil
	}
	return &provider.CallStatus{Status: "in-progress"}, nil
}

var _ provider.CallProvider = (*fakeProvider)(nil)

// newTestDispatcher wires a dispatcher around the store and a fake
// backend, with pacing disabled.
func newTestDispatcher(s *testStore, fake *fakeProvider) *Dispatcher {
	logger := slog.Default()
	registry := Registry{fake.Name(): fake}
	d := NewDispatcher(
		Repositories{Campaigns: s.campaigns, Items: s.items, Numbers: s.numbers, Trunks: s.trunks},
		registry,
		nil,
		NewReconciler(s.campaigns, s.items, registry, logger),
		NewLogAlerter(logger),
		webhook.NewSigner([]byte("0123456789abcdef0123456789abcdef")),
		nil,
		"http://dial.test",
		logger,
	)
	d.limiter = rate.NewLimiter(rate.Inf, 1)
	return d
}
