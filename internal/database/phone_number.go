package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
)

// phoneNumberRepo implements PhoneNumberRepository.
type phoneNumberRepo struct {
	db *DB
}

// NewPhoneNumberRepository creates a new PhoneNumberRepository.
func NewPhoneNumberRepository(db *DB) PhoneNumberRepository {
	return &phoneNumberRepo{db: db}
}

const phoneNumberColumns = `id, owner_id, number, provider, active,
	spam_flagged, quarantined, trunk_auth_failed, daily_calls, daily_cap,
	daily_date, last_used_at, created_at, updated_at`

// Create inserts a new phone number.
func (r *phoneNumberRepo) Create(ctx context.Context, n *models.PhoneNumber) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO phone_numbers (owner_id, number, provider, active,
		 spam_flagged, quarantined, trunk_auth_failed, daily_calls,
		 daily_cap, daily_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		n.OwnerID, n.Number, n.Provider, n.Active, n.SpamFlagged,
		n.Quarantined, n.TrunkAuthFailed, n.DailyCalls, n.DailyCap, n.DailyDate,
	)
	if err != nil {
		return fmt.Errorf("inserting phone number: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	n.ID = id
	return nil
}

// GetByID returns a phone number by ID.
func (r *phoneNumberRepo) GetByID(ctx context.Context, id int64) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE id = ?`, id))
}

// GetByNumber returns a phone number by its E.164 representation.
func (r *phoneNumberRepo) GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE number = ?`, number))
}

// List returns all numbers for an owner.
func (r *phoneNumberRepo) List(ctx context.Context, ownerID int64) ([]models.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers
		 WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying phone numbers: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListEligible returns pool members that may serve as outbound caller ID
// today. A stale daily counter (from a previous day) does not count
// against the cap.
func (r *phoneNumberRepo) ListEligible(ctx context.Context, ownerID int64, today string) ([]models.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers
		 WHERE owner_id = ? AND active = 1 AND spam_flagged = 0
		 AND quarantined = 0 AND (daily_date != ? OR daily_calls < daily_cap)
		 ORDER BY id`, ownerID, today)
	if err != nil {
		return nil, fmt.Errorf("querying eligible phone numbers: %w", err)
	}
	defer rows.Close()

	numbers, err := r.scanMany(rows)
	if err != nil {
		return nil, err
	}

	// Counters carried over from an earlier day read as zero usage.
	for i := range numbers {
		if numbers[i].DailyDate != today {
			numbers[i].DailyCalls = 0
			numbers[i].DailyDate = today
		}
	}
	return numbers, nil
}

// IncrementDailyUsage bumps the daily counter, resetting it when the stored
// counter belongs to an earlier day.
func (r *phoneNumberRepo) IncrementDailyUsage(ctx context.Context, id int64, today string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE phone_numbers SET
		 daily_calls = CASE WHEN daily_date = ? THEN daily_calls + 1 ELSE 1 END,
		 daily_date = ?, last_used_at = datetime('now'),
		 updated_at = datetime('now')
		 WHERE id = ?`,
		today, today, id)
	if err != nil {
		return fmt.Errorf("incrementing daily usage: %w", err)
	}
	return nil
}

// SetTrunkAuthFailed records whether trunk routing rejected this number.
func (r *phoneNumberRepo) SetTrunkAuthFailed(ctx context.Context, id int64, failed bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE phone_numbers SET trunk_auth_failed = ?,
		 updated_at = datetime('now') WHERE id = ?`,
		failed, id)
	if err != nil {
		return fmt.Errorf("setting trunk auth failed flag: %w", err)
	}
	return nil
}

// Update modifies an existing phone number.
func (r *phoneNumberRepo) Update(ctx context.Context, n *models.PhoneNumber) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE phone_numbers SET number = ?, provider = ?, active = ?,
		 spam_flagged = ?, quarantined = ?, trunk_auth_failed = ?,
		 daily_calls = ?, daily_cap = ?, daily_date = ?,
		 updated_at = datetime('now')
		 WHERE id = ?`,
		n.Number, n.Provider, n.Active, n.SpamFlagged, n.Quarantined,
		n.TrunkAuthFailed, n.DailyCalls, n.DailyCap, n.DailyDate, n.ID)
	if err != nil {
		return fmt.Errorf("updating phone number: %w", err)
	}
	return nil
}

func (r *phoneNumberRepo) scanOne(row *sql.Row) (*models.PhoneNumber, error) {
	var n models.PhoneNumber
	err := row.Scan(&n.ID, &n.OwnerID, &n.Number, &n.Provider, &n.Active,
		&n.SpamFlagged, &n.Quarantined, &n.TrunkAuthFailed, &n.DailyCalls,
		&n.DailyCap, &n.DailyDate, &n.LastUsedAt, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning phone number: %w", err)
	}
	return &n, nil
}

func (r *phoneNumberRepo) scanMany(rows *sql.Rows) ([]models.PhoneNumber, error) {
	var numbers []models.PhoneNumber
	for rows.Next() {
		var n models.PhoneNumber
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Number, &n.Provider, &n.Active,
			&n.SpamFlagged, &n.Quarantined, &n.TrunkAuthFailed, &n.DailyCalls,
			&n.DailyCap, &n.DailyDate, &n.LastUsedAt, &n.CreatedAt,
			&n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning phone number row: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}
