package repository

import (
	"context"
	"errors"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/jackc/pgx/v5"
)

type pgUserDirectory struct {
	db DBTX
}

// NewUserDirectory reads principals from the users table owned by the
// surrounding application
func NewUserDirectory(db DBTX) UserDirectory {
	return &pgUserDirectory{db: db}
}

// FindByID retrieves a user by ID
func (r *pgUserDirectory) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}

	query := `
		SELECT id, email, email_verified, name, avatar, account_status
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.Name,
		&user.Avatar,
		&user.AccountStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}
