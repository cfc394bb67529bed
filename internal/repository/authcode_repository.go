package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/jackc/pgx/v5"
)

const authCodeColumns = `
	id, code_hash, client_id, user_id, redirect_uri, scopes,
	code_challenge, code_challenge_method, nonce, state,
	expires_at, created_at, used_at`

type pgAuthCodeRepository struct {
	db DBTX
}

// NewAuthCodeRepository creates a PostgreSQL-based AuthCodeRepository
func NewAuthCodeRepository(db DBTX) AuthCodeRepository {
	return &pgAuthCodeRepository{db: db}
}

func (r *pgAuthCodeRepository) Create(ctx context.Context, code *domain.AuthorizationCode) error {
	query := `
		INSERT INTO authorization_codes (` + authCodeColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		code.ID,
		code.CodeHash,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		textArray(code.Scopes),
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Nonce,
		code.State,
		code.ExpiresAt,
		code.CreatedAt,
		code.UsedAt,
	)
	return err
}

// Consume marks the code used with a single conditional UPDATE so that
// concurrent redemptions see at most one returned row.
func (r *pgAuthCodeRepository) Consume(ctx context.Context, codeHash, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	query := `
		UPDATE authorization_codes
		SET used_at = $4
		WHERE code_hash = $1 AND client_id = $2 AND redirect_uri = $3
			AND used_at IS NULL AND expires_at > $4
		RETURNING ` + authCodeColumns

	c := &domain.AuthorizationCode{}
	err := r.db.QueryRow(ctx, query, codeHash, clientID, redirectURI, now).Scan(
		&c.ID,
		&c.CodeHash,
		&c.ClientID,
		&c.UserID,
		&c.RedirectURI,
		&c.Scopes,
		&c.CodeChallenge,
		&c.CodeChallengeMethod,
		&c.Nonce,
		&c.State,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *pgAuthCodeRepository) DeleteByClient(ctx context.Context, clientID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM authorization_codes WHERE client_id = $1`, clientID)
	return err
}
