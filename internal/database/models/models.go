package models

import "time"

// Campaign statuses.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Queue item statuses. Pending and calling are non-terminal; everything
// else is terminal.
const (
	QueueStatusPending     = "pending"
	QueueStatusCalling     = "calling"
	QueueStatusAnswered    = "answered"
	QueueStatusCompleted   = "completed"
	QueueStatusNoAnswer    = "no_answer"
	QueueStatusFailed      = "failed"
	QueueStatusTransferred = "transferred"
	QueueStatusCallback    = "callback"
	QueueStatusDNC         = "dnc"
)

// IsTerminalQueueStatus reports whether a queue item status is terminal.
func IsTerminalQueueStatus(status string) bool {
	switch status {
	case QueueStatusPending, QueueStatusCalling:
		return false
	}
	return true
}

// Campaign represents an outbound voice-broadcast campaign.
type Campaign struct {
	ID       int64
	OwnerID  int64
	Name     string
	Status   string
	Timezone string

	// Calling hours window, minutes from midnight in the campaign timezone.
	CallWindowStart int
	CallWindowEnd   int

	// Pace is the maximum number of calls dispatched per tick.
	Pace int

	CallerIDMode  string // "fixed" | "pool"
	FixedCallerID string
	AudioURL      string // pre-rendered audio for carrier campaigns
	AgentScriptID string // AI-agent script reference

	LocalPresence   bool
	NumberRotation  bool
	AMDEnabled      bool
	SipTrunkEnabled bool

	MaxAttempts int
	DigitMap    string // JSON map of DTMF digit -> action

	CallbackDelayMinutes int
	ReminderLeadMinutes  int

	CallsPlaced int64
	Transfers   int64
	Callbacks   int64
	DNCRequests int64

	LastError   string
	LastErrorAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueItem represents one destination call attempt within a campaign.
type QueueItem struct {
	ID             int64
	CampaignID     int64
	LeadID         *int64
	Destination    string
	Status         string
	Attempts       int
	MaxAttempts    int
	ProviderCallID string
	CallerID       string // outbound number the call was placed from
	Digit          string // DTMF digit pressed, if any
	DurationSec    int
	ScheduledAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PhoneNumber is a rotation pool member usable as outbound caller ID.
type PhoneNumber struct {
	ID       int64
	OwnerID  int64
	Number   string // E.164
	Provider string // backend the number is registered with

	Active      bool
	SpamFlagged bool
	Quarantined bool

	// TrunkAuthFailed is a soft signal that trunk routing rejected this
	// number; future selections prefer the direct path for it.
	TrunkAuthFailed bool

	DailyCalls int
	DailyCap   int
	DailyDate  string // YYYY-MM-DD the daily counter belongs to

	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SipTrunkConfig routes calls through a pre-provisioned trunk instead of a
// provider's direct API.
type SipTrunkConfig struct {
	ID        int64
	OwnerID   int64
	Provider  string
	Name      string
	Active    bool
	IsDefault bool
	Host      string
	Port      int
	Transport string
	Username  string
	Password  string // encrypted at rest when an encryption key is configured
	TrunkSID  string // provider-side trunk identifier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lead is the contact a queue item may be linked to.
type Lead struct {
	ID        int64
	OwnerID   int64
	Name      string
	Phone     string
	DoNotCall bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DNCEntry is a do-not-call list entry.
type DNCEntry struct {
	ID        int64
	OwnerID   int64
	Number    string
	Source    string // "dtmf", "manual", ...
	CreatedAt time.Time
}
