package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorstack/tutorstack-api/internal/models"
)

// InviteRepository provides database access for invite tokens. Expiry is
// enforced by a periodic sweep rather than native TTL indexes.
type InviteRepository struct {
	db *sqlx.DB
}

// NewInviteRepository creates a new instance of InviteRepository.
func NewInviteRepository(db *sqlx.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

const inviteColumns = `id, token_hash, user_id, instructor_id, owner_id, expires_at, used_at, created_at`

// Create inserts a new invite token.
func (r *InviteRepository) Create(ctx context.Context, token *models.InviteToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO invite_tokens (id, token_hash, user_id, instructor_id, owner_id, expires_at, used_at, created_at)
		VALUES (:id, :token_hash, :user_id, :instructor_id, :owner_id, :expires_at, :used_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create invite token: %w", err)
	}
	return nil
}

// FindByHash returns an invite token by its hashed secret.
func (r *InviteRepository) FindByHash(ctx context.Context, tokenHash string) (*models.InviteToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM invite_tokens WHERE token_hash = $1 LIMIT 1`, inviteColumns)
	var token models.InviteToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find invite token: %w", err)
	}
	return &token, nil
}

// MarkUsed stamps the token as consumed. Only unused tokens are affected,
// making consumption single-use under concurrent accepts.
func (r *InviteRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	const query = `UPDATE invite_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("mark invite used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark invite used rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeForInstructor removes sibling tokens for the instructor, keeping the
// consumed one for the audit trail.
func (r *InviteRepository) PurgeForInstructor(ctx context.Context, instructorID, keepID string) error {
	const query = `DELETE FROM invite_tokens WHERE instructor_id = $1 AND id <> $2`
	if _, err := r.db.ExecContext(ctx, query, instructorID, keepID); err != nil {
		return fmt.Errorf("purge instructor invites: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens past their expiry, returning how many rows
// were swept.
func (r *InviteRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM invite_tokens WHERE expires_at < $1 AND used_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired invites rows: %w", err)
	}
	return affected, nil
}
