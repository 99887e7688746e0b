package database

import (
	"context"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// CounterDelta carries cumulative campaign counter increments.
type CounterDelta struct {
	CallsPlaced int64
	Transfers   int64
	Callbacks   int64
	DNCRequests int64
}

// CampaignRepository manages broadcast campaigns.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	List(ctx context.Context, ownerID int64) ([]models.Campaign, error)
	ListByStatus(ctx context.Context, status string) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	SetStatus(ctx context.Context, id int64, status string) error
	RecordError(ctx context.Context, id int64, msg string) error
	AddCounters(ctx context.Context, id int64, delta CounterDelta) error
}

// QueueItemRepository manages per-destination call attempts. Status writes
// are conditional on the previously-read status so concurrent writers
// (dispatch, webhook, sweep) resolve to first-writer-wins.
type QueueItemRepository interface {
	Create(ctx context.Context, item *models.QueueItem) error
	// CreatePendingIfAbsent inserts a pending item unless one already
	// exists for the same campaign and destination. Returns whether a row
	// was inserted.
	CreatePendingIfAbsent(ctx context.Context, item *models.QueueItem) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.QueueItem, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*models.QueueItem, error)
	// ListPending returns up to limit pending items in FIFO order of
	// scheduled time, skipping items scheduled in the future.
	ListPending(ctx context.Context, campaignID int64, limit int) ([]models.QueueItem, error)
	ListCalling(ctx context.Context, campaignID int64) ([]models.QueueItem, error)
	// ListStuck returns items in calling status not updated since cutoff.
	ListStuck(ctx context.Context, campaignID int64, cutoff time.Time) ([]models.QueueItem, error)
	CountByStatus(ctx context.Context, campaignID int64, status string) (int64, error)
	StatusCounts(ctx context.Context, campaignID int64) (map[string]int64, error)
	// RecentOutcomes returns the statuses of the most recently updated
	// terminal items, newest first, up to n.
	RecentOutcomes(ctx context.Context, campaignID int64, n int) ([]string, error)
	// MarkCalling transitions pending -> calling and records the provider
	// call id and chosen caller id. Returns false if the item was no
	// longer pending.
	MarkCalling(ctx context.Context, id int64, providerCallID, callerID string) (bool, error)
	// MarkTerminalFromCalling transitions calling -> a terminal status,
	// recording call duration. Returns false if the item was not calling.
	MarkTerminalFromCalling(ctx context.Context, id int64, status string, durationSec int) (bool, error)
	// MarkTerminal transitions any non-terminal status to a terminal one.
	// Returns false if the item was already terminal.
	MarkTerminal(ctx context.Context, id int64, status string) (bool, error)
	// RequeueFromCalling resets calling -> pending without touching the
	// attempt counter. Used by stop.
	RequeueFromCalling(ctx context.Context, id int64) (bool, error)
	// RecordAttemptFailure bumps the attempt counter and moves the item
	// back to pending or, when attempts are exhausted, to failed.
	RecordAttemptFailure(ctx context.Context, id int64, attempts int, status string) error
	SetDigit(ctx context.Context, id int64, digit string) error
}

// PhoneNumberRepository manages the outbound caller-ID rotation pool.
type PhoneNumberRepository interface {
	Create(ctx context.Context, n *models.PhoneNumber) error
	GetByID(ctx context.Context, id int64) (*models.PhoneNumber, error)
	GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error)
	List(ctx context.Context, ownerID int64) ([]models.PhoneNumber, error)
	// ListEligible returns active, non-spam, non-quarantined numbers whose
	// daily counter (for today) is under the daily cap.
	ListEligible(ctx context.Context, ownerID int64, today string) ([]models.PhoneNumber, error)
	// IncrementDailyUsage bumps the daily counter, resetting it first when
	// the stored counter belongs to an earlier day.
	IncrementDailyUsage(ctx context.Context, id int64, today string) error
	SetTrunkAuthFailed(ctx context.Context, id int64, failed bool) error
	Update(ctx context.Context, n *models.PhoneNumber) error
}

// SipTrunkRepository manages SIP trunk configurations.
type SipTrunkRepository interface {
	Create(ctx context.Context, t *models.SipTrunkConfig) error
	GetByID(ctx context.Context, id int64) (*models.SipTrunkConfig, error)
	List(ctx context.Context, ownerID int64) ([]models.SipTrunkConfig, error)
	// ActiveForProvider returns the default active trunk for a provider,
	// or the first active one when none is marked default. Nil when no
	// active trunk exists.
	ActiveForProvider(ctx context.Context, ownerID int64, provider string) (*models.SipTrunkConfig, error)
	Update(ctx context.Context, t *models.SipTrunkConfig) error
	Delete(ctx context.Context, id int64) error
}

// LeadRepository manages campaign leads.
type LeadRepository interface {
	Create(ctx context.Context, l *models.Lead) error
	GetByID(ctx context.Context, id int64) (*models.Lead, error)
	SetDoNotCall(ctx context.Context, id int64, dnc bool) error
}

// DNCRepository manages the do-not-call list.
type DNCRepository interface {
	Upsert(ctx context.Context, ownerID int64, number, source string) error
	Exists(ctx context.Context, ownerID int64, number string) (bool, error)
	List(ctx context.Context, ownerID int64) ([]models.DNCEntry, error)
}
