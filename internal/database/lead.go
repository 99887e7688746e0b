package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
)

// leadRepo implements LeadRepository.
type leadRepo struct {
	db *DB
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(db *DB) LeadRepository {
	return &leadRepo{db: db}
}

// Create inserts a new lead.
func (r *leadRepo) Create(ctx context.Context, l *models.Lead) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (owner_id, name, phone, do_not_call, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		l.OwnerID, l.Name, l.Phone, l.DoNotCall)
	if err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	l.ID = id
	return nil
}

// GetByID returns a lead by ID.
func (r *leadRepo) GetByID(ctx context.Context, id int64) (*models.Lead, error) {
	var l models.Lead
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, phone, do_not_call, created_at, updated_at
		 FROM leads WHERE id = ?`, id).
		Scan(&l.ID, &l.OwnerID, &l.Name, &l.Phone, &l.DoNotCall,
			&l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	return &l, nil
}

// SetDoNotCall flags or unflags a lead as do-not-call.
func (r *leadRepo) SetDoNotCall(ctx context.Context, id int64, dnc bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET do_not_call = ?, updated_at = datetime('now') WHERE id = ?`,
		dnc, id)
	if err != nil {
		return fmt.Errorf("setting lead do-not-call flag: %w", err)
	}
	return nil
}
