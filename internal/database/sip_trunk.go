package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
)

// sipTrunkRepo implements SipTrunkRepository.
type sipTrunkRepo struct {
	db *DB
}

// NewSipTrunkRepository creates a new SipTrunkRepository.
func NewSipTrunkRepository(db *DB) SipTrunkRepository {
	return &sipTrunkRepo{db: db}
}

const sipTrunkColumns = `id, owner_id, provider, name, active, is_default,
	host, port, transport, username, password, trunk_sid, created_at, updated_at`

// Create inserts a new trunk config.
func (r *sipTrunkRepo) Create(ctx context.Context, t *models.SipTrunkConfig) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO sip_trunks (owner_id, provider, name, active, is_default,
		 host, port, transport, username, password, trunk_sid,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		t.OwnerID, t.Provider, t.Name, t.Active, t.IsDefault, t.Host, t.Port,
		t.Transport, t.Username, t.Password, t.TrunkSID,
	)
	if err != nil {
		return fmt.Errorf("inserting sip trunk: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	t.ID = id
	return nil
}

// GetByID returns a trunk config by ID.
func (r *sipTrunkRepo) GetByID(ctx context.Context, id int64) (*models.SipTrunkConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+sipTrunkColumns+` FROM sip_trunks WHERE id = ?`, id))
}

// List returns all trunk configs for an owner.
func (r *sipTrunkRepo) List(ctx context.Context, ownerID int64) ([]models.SipTrunkConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sipTrunkColumns+` FROM sip_trunks
		 WHERE owner_id = ? ORDER BY is_default DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying sip trunks: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ActiveForProvider returns the preferred active trunk for a provider.
// Default trunks win over non-default ones.
func (r *sipTrunkRepo) ActiveForProvider(ctx context.Context, ownerID int64, provider string) (*models.SipTrunkConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+sipTrunkColumns+` FROM sip_trunks
		 WHERE owner_id = ? AND provider = ? AND active = 1
		 ORDER BY is_default DESC, id LIMIT 1`, ownerID, provider))
}

// Update modifies an existing trunk config.
func (r *sipTrunkRepo) Update(ctx context.Context, t *models.SipTrunkConfig) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sip_trunks SET provider = ?, name = ?, active = ?,
		 is_default = ?, host = ?, port = ?, transport = ?, username = ?,
		 password = ?, trunk_sid = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		t.Provider, t.Name, t.Active, t.IsDefault, t.Host, t.Port,
		t.Transport, t.Username, t.Password, t.TrunkSID, t.ID)
	if err != nil {
		return fmt.Errorf("updating sip trunk: %w", err)
	}
	return nil
}

// Delete removes a trunk config by ID.
func (r *sipTrunkRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sip_trunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting sip trunk: %w", err)
	}
	return nil
}

func (r *sipTrunkRepo) scanOne(row *sql.Row) (*models.SipTrunkConfig, error) {
	var t models.SipTrunkConfig
	err := row.Scan(&t.ID, &t.OwnerID, &t.Provider, &t.Name, &t.Active,
		&t.IsDefault, &t.Host, &t.Port, &t.Transport, &t.Username,
		&t.Password, &t.TrunkSID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sip trunk: %w", err)
	}
	return &t, nil
}

func (r *sipTrunkRepo) scanMany(rows *sql.Rows) ([]models.SipTrunkConfig, error) {
	var trunks []models.SipTrunkConfig
	for rows.Next() {
		var t models.SipTrunkConfig
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Provider, &t.Name, &t.Active,
			&t.IsDefault, &t.Host, &t.Port, &t.Transport, &t.Username,
			&t.Password, &t.TrunkSID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning sip trunk row: %w", err)
		}
		trunks = append(trunks, t)
	}
	return trunks, rows.Err()
}
