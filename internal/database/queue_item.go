package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// queueItemRepo implements QueueItemRepository.
type queueItemRepo struct {
	db *DB
}

// NewQueueItemRepository creates a new QueueItemRepository.
func NewQueueItemRepository(db *DB) QueueItemRepository {
	return &queueItemRepo{db: db}
}

const queueItemColumns = `id, campaign_id, lead_id, destination, status,
	attempts, max_attempts, provider_call_id, caller_id, digit, duration_sec,
	scheduled_at, created_at, updated_at`

// Create inserts a new queue item.
func (r *queueItemRepo) Create(ctx context.Context, item *models.QueueItem) error {
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO queue_items (campaign_id, lead_id, destination, status,
		 attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		item.CampaignID, item.LeadID, item.Destination, item.Status,
		item.Attempts, item.MaxAttempts, sqliteTime(item.ScheduledAt),
	)
	if err != nil {
		return fmt.Errorf("inserting queue item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	item.ID = id
	return nil
}

// CreatePendingIfAbsent inserts a pending item unless a pending one already
// exists for the same campaign and destination.
func (r *queueItemRepo) CreatePendingIfAbsent(ctx context.Context, item *models.QueueItem) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items
		 WHERE campaign_id = ? AND destination = ? AND status = ?`,
		item.CampaignID, item.Destination, models.QueueStatusPending,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking existing pending item: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if err := r.Create(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

// GetByID returns a queue item by ID.
func (r *queueItemRepo) GetByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE id = ?`, id))
}

// GetByProviderCallID returns the queue item carrying a provider call id.
func (r *queueItemRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*models.QueueItem, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE provider_call_id = ? ORDER BY id DESC LIMIT 1`, providerCallID))
}

// ListPending returns up to limit due pending items in FIFO order.
func (r *queueItemRepo) ListPending(ctx context.Context, campaignID int64, limit int) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE campaign_id = ? AND status = ? AND scheduled_at <= datetime('now')
		 ORDER BY scheduled_at, id LIMIT ?`,
		campaignID, models.QueueStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending queue items: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListCalling returns all items currently in calling status.
func (r *queueItemRepo) ListCalling(ctx context.Context, campaignID int64) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE campaign_id = ? AND status = ? ORDER BY updated_at, id`,
		campaignID, models.QueueStatusCalling)
	if err != nil {
		return nil, fmt.Errorf("querying calling queue items: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListStuck returns calling items not updated since cutoff.
func (r *queueItemRepo) ListStuck(ctx context.Context, campaignID int64, cutoff time.Time) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE campaign_id = ? AND status = ? AND updated_at < ?
		 ORDER BY updated_at, id`,
		campaignID, models.QueueStatusCalling, sqliteTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying stuck queue items: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// CountByStatus returns the number of items with the given status.
func (r *queueItemRepo) CountByStatus(ctx context.Context, campaignID int64, status string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE campaign_id = ? AND status = ?`,
		campaignID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting queue items: %w", err)
	}
	return count, nil
}

// StatusCounts returns item counts grouped by status.
func (r *queueItemRepo) StatusCounts(ctx context.Context, campaignID int64) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_items
		 WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("counting queue items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RecentOutcomes returns statuses of the most recently updated terminal
// items, newest first.
func (r *queueItemRepo) RecentOutcomes(ctx context.Context, campaignID int64, n int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status FROM queue_items
		 WHERE campaign_id = ? AND status NOT IN (?, ?)
		 ORDER BY updated_at DESC, id DESC LIMIT ?`,
		campaignID, models.QueueStatusPending, models.QueueStatusCalling, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		outcomes = append(outcomes, status)
	}
	return outcomes, rows.Err()
}

// MarkCalling transitions pending -> calling, guarded by the prior status.
func (r *queueItemRepo) MarkCalling(ctx context.Context, id int64, providerCallID, callerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, provider_call_id = ?, caller_id = ?,
		 updated_at = datetime('now')
		 WHERE id = ? AND status = ?`,
		models.QueueStatusCalling, providerCallID, callerID, id,
		models.QueueStatusPending)
	if err != nil {
		return false, fmt.Errorf("marking queue item calling: %w", err)
	}
	return rowsChanged(result)
}

// MarkTerminalFromCalling transitions calling -> a terminal status.
func (r *queueItemRepo) MarkTerminalFromCalling(ctx context.Context, id int64, status string, durationSec int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, duration_sec = ?,
		 updated_at = datetime('now')
		 WHERE id = ? AND status = ?`,
		status, durationSec, id, models.QueueStatusCalling)
	if err != nil {
		return false, fmt.Errorf("marking queue item terminal: %w", err)
	}
	return rowsChanged(result)
}

// MarkTerminal transitions any non-terminal status to a terminal one.
func (r *queueItemRepo) MarkTerminal(ctx context.Context, id int64, status string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, updated_at = datetime('now')
		 WHERE id = ? AND status IN (?, ?)`,
		status, id, models.QueueStatusPending, models.QueueStatusCalling)
	if err != nil {
		return false, fmt.Errorf("marking queue item terminal: %w", err)
	}
	return rowsChanged(result)
}

// RequeueFromCalling resets calling -> pending.
func (r *queueItemRepo) RequeueFromCalling(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, provider_call_id = '',
		 updated_at = datetime('now')
		 WHERE id = ? AND status = ?`,
		models.QueueStatusPending, id, models.QueueStatusCalling)
	if err != nil {
		return false, fmt.Errorf("requeueing queue item: %w", err)
	}
	return rowsChanged(result)
}

// RecordAttemptFailure stores the bumped attempt counter and the resulting
// status (pending for a retry, failed when attempts are exhausted).
func (r *queueItemRepo) RecordAttemptFailure(ctx context.Context, id int64, attempts int, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET attempts = ?, status = ?,
		 updated_at = datetime('now') WHERE id = ?`,
		attempts, status, id)
	if err != nil {
		return fmt.Errorf("recording attempt failure: %w", err)
	}
	return nil
}

// SetDigit stores the DTMF digit pressed during the call.
func (r *queueItemRepo) SetDigit(ctx context.Context, id int64, digit string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET digit = ?, updated_at = datetime('now') WHERE id = ?`,
		digit, id)
	if err != nil {
		return fmt.Errorf("setting queue item digit: %w", err)
	}
	return nil
}

// sqliteTime formats a timestamp the same way datetime('now') stores it,
// so bound parameters compare correctly against stored values.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func rowsChanged(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *queueItemRepo) scanOne(row *sql.Row) (*models.QueueItem, error) {
	var it models.QueueItem
	err := row.Scan(&it.ID, &it.CampaignID, &it.LeadID, &it.Destination,
		&it.Status, &it.Attempts, &it.MaxAttempts, &it.ProviderCallID,
		&it.CallerID, &it.Digit, &it.DurationSec, &it.ScheduledAt,
		&it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning queue item: %w", err)
	}
	return &it, nil
}

func (r *queueItemRepo) scanMany(rows *sql.Rows) ([]models.QueueItem, error) {
	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		if err := rows.Scan(&it.ID, &it.CampaignID, &it.LeadID, &it.Destination,
			&it.Status, &it.Attempts, &it.MaxAttempts, &it.ProviderCallID,
			&it.CallerID, &it.Digit, &it.DurationSec, &it.ScheduledAt,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning queue item row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
