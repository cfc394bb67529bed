package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/jackc/pgx/v5"
)

const clientColumns = `
	id, client_id, client_secret_hash, client_name, description, logo_uri, website_uri,
	redirect_uris, scopes, application_type, is_first_party,
	status, status_reason, status_changed_by, status_changed_at,
	owner_user_id, owner_email, failed_auth_attempts, last_failed_auth_at,
	created_at, updated_at`

type pgClientRepository struct {
	db DBTX
}

// NewClientRepository creates a new PostgreSQL-based ClientRepository
func NewClientRepository(db DBTX) ClientRepository {
	return &pgClientRepository{db: db}
}

func scanClient(row pgx.Row) (*domain.Client, error) {
	c := &domain.Client{}
	err := row.Scan(
		&c.ID,
		&c.ClientID,
		&c.ClientSecretHash,
		&c.ClientName,
		&c.Description,
		&c.LogoURI,
		&c.WebsiteURI,
		&c.RedirectURIs,
		&c.Scopes,
		&c.ApplicationType,
		&c.IsFirstParty,
		&c.Status,
		&c.StatusReason,
		&c.StatusChangedBy,
		&c.StatusChangedAt,
		&c.Owner.UserID,
		&c.Owner.Email,
		&c.FailedAuthAttempts,
		&c.LastFailedAuthAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return c, nil
}

// Create creates a new client in the database
func (r *pgClientRepository) Create(ctx context.Context, client *domain.Client) error {
	query := `
		INSERT INTO clients (` + clientColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		client.ID,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientName,
		client.Description,
		client.LogoURI,
		client.WebsiteURI,
		textArray(client.RedirectURIs),
		textArray(client.Scopes),
		client.ApplicationType,
		client.IsFirstParty,
		client.Status,
		client.StatusReason,
		client.StatusChangedBy,
		client.StatusChangedAt,
		client.Owner.UserID,
		client.Owner.Email,
		client.FailedAuthAttempts,
		client.LastFailedAuthAt,
		client.CreatedAt,
		client.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrClientExists
	}
	return err
}

// GetByClientID retrieves a client by its client_id
func (r *pgClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	query := `SELECT ` + clientColumns + ` FROM clients WHERE client_id = $1`
	return scanClient(r.db.QueryRow(ctx, query, clientID))
}

func (r *pgClientRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListByOwner lists the clients registered by ownerID
func (r *pgClientRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE owner_user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, ownerID)
}

// ListByStatus lists clients in the given status
func (r *pgClientRepository) ListByStatus(ctx context.Context, status domain.ClientStatus) ([]*domain.Client, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at`)
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE status = $1 ORDER BY created_at`
	return r.list(ctx, query, status)
}

// Update writes the owner-editable metadata
func (r *pgClientRepository) Update(ctx context.Context, client *domain.Client) error {
	query := `
		UPDATE clients
		SET client_name = $2, description = $3, logo_uri = $4, website_uri = $5,
			redirect_uris = $6, scopes = $7, updated_at = $8
		WHERE client_id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		client.ClientID,
		client.ClientName,
		client.Description,
		client.LogoURI,
		client.WebsiteURI,
		textArray(client.RedirectURIs),
		textArray(client.Scopes),
		client.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// UpdateStatus performs a conditional lifecycle transition
func (r *pgClientRepository) UpdateStatus(ctx context.Context, clientID string, from, to domain.ClientStatus, reason, actor string, at time.Time) (*domain.Client, error) {
	query := `
		UPDATE clients
		SET status = $3, status_reason = $4, status_changed_by = $5, status_changed_at = $6, updated_at = $6
		WHERE client_id = $1 AND status = $2
		RETURNING ` + clientColumns

	c, err := scanClient(r.db.QueryRow(ctx, query, clientID, from, to, reason, actor, at))
	if errors.Is(err, ErrClientNotFound) {
		if _, getErr := r.GetByClientID(ctx, clientID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	return c, err
}

// UpdateSecret replaces the stored secret hash
func (r *pgClientRepository) UpdateSecret(ctx context.Context, clientID, secretHash string, at time.Time) error {
	query := `
		UPDATE clients
		SET client_secret_hash = $2, failed_auth_attempts = 0, last_failed_auth_at = NULL, updated_at = $3
		WHERE client_id = $1
	`
	tag, err := r.db.Exec(ctx, query, clientID, secretHash, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// RecordAuthFailure increments the failed authentication counter
func (r *pgClientRepository) RecordAuthFailure(ctx context.Context, clientID string, at time.Time) error {
	query := `
		UPDATE clients
		SET failed_auth_attempts = failed_auth_attempts + 1, last_failed_auth_at = $2
		WHERE client_id = $1
	`
	_, err := r.db.Exec(ctx, query, clientID, at)
	return err
}

// ResetAuthFailures clears the failed authentication counter
func (r *pgClientRepository) ResetAuthFailures(ctx context.Context, clientID string) error {
	query := `
		UPDATE clients
		SET failed_auth_attempts = 0, last_failed_auth_at = NULL
		WHERE client_id = $1 AND failed_auth_attempts > 0
	`
	_, err := r.db.Exec(ctx, query, clientID)
	return err
}

// Delete removes a client from the database
func (r *pgClientRepository) Delete(ctx context.Context, clientID string) error {
	query := `DELETE FROM clients WHERE client_id = $1`

	tag, err := r.db.Exec(ctx, query, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}
