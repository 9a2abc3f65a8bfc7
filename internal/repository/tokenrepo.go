package repository

import (
	"context"
	"time"

	"github.com/and161185/collab-studio/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TokenRepository stores single-use connection tokens.
type TokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, tok model.ConnectionToken) error
	// Consume atomically deletes the token matching all keys and returns it.
	Consume(ctx context.Context, id uuid.UUID, designID, user string, secretHash []byte) (model.ConnectionToken, error)
	// DeleteExpired removes tokens that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
