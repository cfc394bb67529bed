package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const refreshTokenColumns = `
	id, token_hash, user_id, client_id, family_id, rotation_count, previous_token_id,
	scopes, expires_at, created_at, rotated_at, is_revoked, revoked_at, revoked_reason`

type pgRefreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository creates a PostgreSQL-based RefreshTokenRepository
func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &pgRefreshTokenRepository{pool: pool}
}

func insertRefreshToken(ctx context.Context, db DBTX, t *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + refreshTokenColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := db.Exec(
		ctx,
		query,
		t.ID,
		t.TokenHash,
		t.UserID,
		t.ClientID,
		t.FamilyID,
		t.RotationCount,
		t.PreviousTokenID,
		textArray(t.Scopes),
		t.ExpiresAt,
		t.CreatedAt,
		t.RotatedAt,
		t.IsRevoked,
		t.RevokedAt,
		t.RevokedReason,
	)
	return err
}

func (r *pgRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.pool, token)
}

func (r *pgRefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	t := &domain.RefreshToken{}
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID,
		&t.TokenHash,
		&t.UserID,
		&t.ClientID,
		&t.FamilyID,
		&t.RotationCount,
		&t.PreviousTokenID,
		&t.Scopes,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.RotatedAt,
		&t.IsRevoked,
		&t.RevokedAt,
		&t.RevokedReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// Rotate retires oldID and stores its successor in one transaction
func (r *pgRefreshTokenRepository) Rotate(ctx context.Context, oldID string, successor *domain.RefreshToken, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET rotated_at = $2
			WHERE id = $1 AND rotated_at IS NULL AND NOT is_revoked
		`, oldID, at)
		if err != nil {
			return fmt.Errorf("failed to mark token rotated: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTokenAlreadyRotated
		}

		if err := insertRefreshToken(ctx, tx, successor); err != nil {
			return fmt.Errorf("failed to insert successor token: %w", err)
		}
		return nil
	})
}

func (r *pgRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE family_id = $1 AND NOT is_revoked
	`, familyID, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgRefreshTokenRepository) DeleteByUserClient(ctx context.Context, userID, clientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgRefreshTokenRepository) DeleteByClient(ctx context.Context, clientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
