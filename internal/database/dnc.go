package database

import (
	"context"
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
)

// dncRepo implements DNCRepository.
type dncRepo struct {
	db *DB
}

// NewDNCRepository creates a new DNCRepository.
func NewDNCRepository(db *DB) DNCRepository {
	return &dncRepo{db: db}
}

// Upsert adds a number to the do-not-call list. Re-adding an existing
// number refreshes its source.
func (r *dncRepo) Upsert(ctx context.Context, ownerID int64, number, source string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dnc_entries (owner_id, number, source, created_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(owner_id, number) DO UPDATE SET source = excluded.source`,
		ownerID, number, source)
	if err != nil {
		return fmt.Errorf("upserting dnc entry: %w", err)
	}
	return nil
}

// Exists reports whether a number is on the do-not-call list.
func (r *dncRepo) Exists(ctx context.Context, ownerID int64, number string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dnc_entries WHERE owner_id = ? AND number = ?`,
		ownerID, number).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking dnc entry: %w", err)
	}
	return count > 0, nil
}

// List returns all do-not-call entries for an owner.
func (r *dncRepo) List(ctx context.Context, ownerID int64) ([]models.DNCEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, number, source, created_at
		 FROM dnc_entries WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying dnc entries: %w", err)
	}
	defer rows.Close()

	var entries []models.DNCEntry
	for rows.Next() {
		var e models.DNCEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Number, &e.Source,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning dnc entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
