package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
)

// campaignRepo implements CampaignRepository.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

const campaignColumns = `id, owner_id, name, status, timezone, call_window_start,
	call_window_end, pace, caller_id_mode, fixed_caller_id, audio_url,
	agent_script_id, local_presence, number_rotation, amd_enabled,
	sip_trunk_enabled, max_attempts, digit_map, callback_delay_minutes,
	reminder_lead_minutes, calls_placed, transfers, callbacks, dnc_requests,
	last_error, last_error_at, created_at, updated_at`

// Create inserts a new campaign.
func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO campaigns (owner_id, name, status, timezone,
		 call_window_start, call_window_end, pace, caller_id_mode,
		 fixed_caller_id, audio_url, agent_script_id, local_presence,
		 number_rotation, amd_enabled, sip_trunk_enabled, max_attempts,
		 digit_map, callback_delay_minutes, reminder_lead_minutes,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		 datetime('now'), datetime('now'))`,
		c.OwnerID, c.Name, c.Status, c.Timezone, c.CallWindowStart,
		c.CallWindowEnd, c.Pace, c.CallerIDMode, c.FixedCallerID, c.AudioURL,
		c.AgentScriptID, c.LocalPresence, c.NumberRotation, c.AMDEnabled,
		c.SipTrunkEnabled, c.MaxAttempts, c.DigitMap, c.CallbackDelayMinutes,
		c.ReminderLeadMinutes,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByID returns a campaign by ID.
func (r *campaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id,
	))
}

// List returns all campaigns for an owner, newest first.
func (r *campaignRepo) List(ctx context.Context, ownerID int64) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE owner_id = ?
		 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListByStatus returns all campaigns with the given status.
func (r *campaignRepo) ListByStatus(ctx context.Context, status string) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ?
		 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns by status: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Update modifies an existing campaign's configuration fields.
func (r *campaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, status = ?, timezone = ?,
		 call_window_start = ?, call_window_end = ?, pace = ?,
		 caller_id_mode = ?, fixed_caller_id = ?, audio_url = ?,
		 agent_script_id = ?, local_presence = ?, number_rotation = ?,
		 amd_enabled = ?, sip_trunk_enabled = ?, max_attempts = ?,
		 digit_map = ?, callback_delay_minutes = ?, reminder_lead_minutes = ?,
		 updated_at = datetime('now')
		 WHERE id = ?`,
		c.Name, c.Status, c.Timezone, c.CallWindowStart, c.CallWindowEnd,
		c.Pace, c.CallerIDMode, c.FixedCallerID, c.AudioURL, c.AgentScriptID,
		c.LocalPresence, c.NumberRotation, c.AMDEnabled, c.SipTrunkEnabled,
		c.MaxAttempts, c.DigitMap, c.CallbackDelayMinutes,
		c.ReminderLeadMinutes, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

// SetStatus updates only the campaign status.
func (r *campaignRepo) SetStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("setting campaign status: %w", err)
	}
	return nil
}

// RecordError stores a human-readable last-error message with a timestamp.
func (r *campaignRepo) RecordError(ctx context.Context, id int64, msg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET last_error = ?, last_error_at = datetime('now'),
		 updated_at = datetime('now') WHERE id = ?`,
		msg, id)
	if err != nil {
		return fmt.Errorf("recording campaign error: %w", err)
	}
	return nil
}

// AddCounters increments the cumulative campaign counters.
func (r *campaignRepo) AddCounters(ctx context.Context, id int64, delta CounterDelta) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET calls_placed = calls_placed + ?,
		 transfers = transfers + ?, callbacks = callbacks + ?,
		 dnc_requests = dnc_requests + ?, updated_at = datetime('now')
		 WHERE id = ?`,
		delta.CallsPlaced, delta.Transfers, delta.Callbacks, delta.DNCRequests, id)
	if err != nil {
		return fmt.Errorf("incrementing campaign counters: %w", err)
	}
	return nil
}

func (r *campaignRepo) scanOne(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.Timezone,
		&c.CallWindowStart, &c.CallWindowEnd, &c.Pace, &c.CallerIDMode,
		&c.FixedCallerID, &c.AudioURL, &c.AgentScriptID, &c.LocalPresence,
		&c.NumberRotation, &c.AMDEnabled, &c.SipTrunkEnabled, &c.MaxAttempts,
		&c.DigitMap, &c.CallbackDelayMinutes, &c.ReminderLeadMinutes,
		&c.CallsPlaced, &c.Transfers, &c.Callbacks, &c.DNCRequests,
		&c.LastError, &c.LastErrorAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}

func (r *campaignRepo) scanMany(rows *sql.Rows) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.Timezone,
			&c.CallWindowStart, &c.CallWindowEnd, &c.Pace, &c.CallerIDMode,
			&c.FixedCallerID, &c.AudioURL, &c.AgentScriptID, &c.LocalPresence,
			&c.NumberRotation, &c.AMDEnabled, &c.SipTrunkEnabled, &c.MaxAttempts,
			&c.DigitMap, &c.CallbackDelayMinutes, &c.ReminderLeadMinutes,
			&c.CallsPlaced, &c.Transfers, &c.Callbacks, &c.DNCRequests,
			&c.LastError, &c.LastErrorAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
