package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/jackc/pgx/v5"
)

const consentColumns = `
	id, user_id, client_id, granted_scopes, is_active,
	first_granted_at, last_updated_at, history`

type pgConsentRepository struct {
	db DBTX
}

// NewConsentRepository creates a PostgreSQL-based ConsentRepository
func NewConsentRepository(db DBTX) ConsentRepository {
	return &pgConsentRepository{db: db}
}

func scanConsent(row pgx.Row) (*domain.UserConsent, error) {
	c := &domain.UserConsent{}
	var history []byte
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ClientID,
		&c.GrantedScopes,
		&c.IsActive,
		&c.FirstGrantedAt,
		&c.LastUpdatedAt,
		&history,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsentNotFound
		}
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.History); err != nil {
			return nil, fmt.Errorf("failed to decode consent history: %w", err)
		}
	}
	return c, nil
}

func (r *pgConsentRepository) Get(ctx context.Context, userID, clientID string) (*domain.UserConsent, error) {
	query := `SELECT ` + consentColumns + ` FROM user_consents WHERE user_id = $1 AND client_id = $2`
	return scanConsent(r.db.QueryRow(ctx, query, userID, clientID))
}

func (r *pgConsentRepository) Save(ctx context.Context, consent *domain.UserConsent) error {
	history, err := json.Marshal(consent.History)
	if err != nil {
		return fmt.Errorf("failed to encode consent history: %w", err)
	}

	query := `
		INSERT INTO user_consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, client_id) DO UPDATE
		SET granted_scopes = EXCLUDED.granted_scopes,
			is_active = EXCLUDED.is_active,
			last_updated_at = EXCLUDED.last_updated_at,
			history = EXCLUDED.history
	`
	_, err = r.db.Exec(
		ctx,
		query,
		consent.ID,
		consent.UserID,
		consent.ClientID,
		textArray(consent.GrantedScopes),
		consent.IsActive,
		consent.FirstGrantedAt,
		consent.LastUpdatedAt,
		history,
	)
	return err
}

func (r *pgConsentRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.UserConsent, error) {
	query := `SELECT ` + consentColumns + ` FROM user_consents
		WHERE user_id = $1 AND is_active ORDER BY last_updated_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.UserConsent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgConsentRepository) DeleteByClient(ctx context.Context, clientID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_consents WHERE client_id = $1`, clientID)
	return err
}
