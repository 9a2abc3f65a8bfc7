package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/collab-studio/internal/crypto"
	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/gofrs/uuid/v5"
)

type tokenRecord struct {
	ID    string
	Token model.ConnectionToken
}

// TokenRepo implements TokenRepository in memory.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs an in-memory token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Create stores a new token.
func (r *TokenRepo) Create(_ context.Context, tok model.ConnectionToken) error {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblTokens, "id", tok.ID.String())
	if err != nil {
		return fmt.Errorf("find token: %w", err)
	}
	if raw != nil {
		return errs.ErrAlreadyExists
	}
	if err := txn.Insert(tblTokens, &tokenRecord{ID: tok.ID.String(), Token: tok}); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	txn.Commit()
	return nil
}

// Consume deletes the token matching all keys and returns it.
func (r *TokenRepo) Consume(
	_ context.Context, id uuid.UUID, designID, user string, secretHash []byte,
) (model.ConnectionToken, error) {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblTokens, "id", id.String())
	if err != nil {
		return model.ConnectionToken{}, fmt.Errorf("find token: %w", err)
	}
	if raw == nil {
		return model.ConnectionToken{}, errs.ErrSessionNotFound
	}
	rec := raw.(*tokenRecord)
	tok := rec.Token
	if tok.DesignID != designID || tok.User != user || !crypto.EqualHash(tok.SecretHash, secretHash) {
		return model.ConnectionToken{}, errs.ErrSessionNotFound
	}
	if err := txn.Delete(tblTokens, rec); err != nil {
		return model.ConnectionToken{}, fmt.Errorf("delete token: %w", err)
	}
	txn.Commit()
	return tok, nil
}

// DeleteExpired removes tokens that expired before now.
func (r *TokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tblTokens, "id")
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	var expired []*tokenRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*tokenRecord)
		if rec.Token.ExpiresAt.Before(now) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		if err := txn.Delete(tblTokens, rec); err != nil {
			return 0, fmt.Errorf("delete token: %w", err)
		}
	}
	txn.Commit()
	return int64(len(expired)), nil
}
