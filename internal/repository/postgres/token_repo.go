package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Create inserts a new token row.
func (r *TokenRepo) Create(ctx context.Context, tok model.ConnectionToken) error {
	const q = `
INSERT INTO session_tokens (id, design_id, user_id, secret_hash, content_version, expires_on)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, tok.ID, tok.DesignID, tok.User, tok.SecretHash, tok.ContentVersion, tok.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Consume deletes the matching token in one statement and returns it.
// Expiry is left to the caller so that expired tokens are consumed as well.
func (r *TokenRepo) Consume(
	ctx context.Context, id uuid.UUID, designID, user string, secretHash []byte,
) (model.ConnectionToken, error) {
	const q = `
DELETE FROM session_tokens
WHERE id=$1 AND design_id=$2 AND user_id=$3 AND secret_hash=$4
RETURNING content_version, expires_on`
	tok := model.ConnectionToken{ID: id, DesignID: designID, User: user, SecretHash: secretHash}
	if err := r.db.Pool.QueryRow(ctx, q, id, designID, user, secretHash).Scan(&tok.ContentVersion, &tok.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConnectionToken{}, errs.ErrSessionNotFound
		}
		return model.ConnectionToken{}, err
	}
	return tok, nil
}

// DeleteExpired removes tokens that expired before now.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM session_tokens WHERE expires_on < $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
