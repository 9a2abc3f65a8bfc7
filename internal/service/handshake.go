// Package service contains application services for the connection handshake
// and the content log.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/collab-studio/internal/crypto"
	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/limiter"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// DefaultTokenTTL is how long an issued connection token stays valid.
const DefaultTokenTTL = 60 * time.Second

// HandshakeService issues and validates single-use connection tokens.
type HandshakeService interface {
	// CreateToken issues a token binding (designID, user, secret) to contentVersion.
	CreateToken(ctx context.Context, designID, user, secret string, contentVersion int64) (uuid.UUID, error)
	// ValidateToken consumes the token and returns the bound content version.
	ValidateToken(ctx context.Context, id uuid.UUID, designID, user, secret string) (int64, error)
	// ValidateWithIP applies rate-limiting by (user, ip) and validates the token.
	ValidateWithIP(ctx context.Context, id uuid.UUID, designID, user, secret, ip string) (int64, error)
	// SweepExpired deletes tokens that can no longer be validated.
	SweepExpired(ctx context.Context) (int64, error)
}

// versionSource reports the current version of a design.
type versionSource interface {
	LatestVersion(ctx context.Context, designID string) (int64, error)
}

type HandshakeServiceImpl struct {
	tokens   repository.TokenRepository
	versions versionSource
	salt     string
	ttl      time.Duration
	lim      limiter.Limiter
	now      func() time.Time
}

// HandshakeOption customizes HandshakeServiceImpl.
type HandshakeOption func(*HandshakeServiceImpl)

// WithClock replaces the wall clock used for expiry.
func WithClock(now func() time.Time) HandshakeOption {
	return func(s *HandshakeServiceImpl) { s.now = now }
}

// WithLimiter enables handshake rate limiting.
func WithLimiter(lim limiter.Limiter) HandshakeOption {
	return func(s *HandshakeServiceImpl) { s.lim = lim }
}

// NewHandshakeService constructs HandshakeService. A non-positive ttl means DefaultTokenTTL.
func NewHandshakeService(
	tokens repository.TokenRepository, versions versionSource, salt string, ttl time.Duration, opts ...HandshakeOption,
) *HandshakeServiceImpl {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &HandshakeServiceImpl{tokens: tokens, versions: versions, salt: salt, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateToken stores a new token. A non-positive contentVersion is replaced by
// the design's latest version.
func (s *HandshakeServiceImpl) CreateToken(
	ctx context.Context, designID, user, secret string, contentVersion int64,
) (uuid.UUID, error) {
	if designID == "" || user == "" || secret == "" {
		return uuid.Nil, errors.New("validation: empty designID/user/secret")
	}
	if contentVersion <= 0 && s.versions != nil {
		v, err := s.versions.LatestVersion(ctx, designID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("latest version of %s: %w", designID, err)
		}
		contentVersion = v
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	tok := model.ConnectionToken{
		ID:             id,
		DesignID:       designID,
		User:           user,
		SecretHash:     pkgcrypto.HashSecret(s.salt, user, secret),
		ContentVersion: contentVersion,
		ExpiresAt:      s.now().Add(s.ttl),
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return uuid.Nil, fmt.Errorf("store token: %w", err)
	}
	return id, nil
}

// ValidateToken consumes a matching token. Unknown, mismatching, consumed and
// expired tokens all fail with errs.ErrSessionNotFound.
func (s *HandshakeServiceImpl) ValidateToken(
	ctx context.Context, id uuid.UUID, designID, user, secret string,
) (int64, error) {
	if id == uuid.Nil {
		return 0, errs.ErrSessionNotFound
	}
	tok, err := s.tokens.Consume(ctx, id, designID, user, pkgcrypto.HashSecret(s.salt, user, secret))
	if err != nil {
		return 0, err
	}
	if !s.now().Before(tok.ExpiresAt) {
		return 0, errs.ErrSessionNotFound
	}
	return tok.ContentVersion, nil
}

// ValidateWithIP validates with rate limiting by (user, ip).
func (s *HandshakeServiceImpl) ValidateWithIP(
	ctx context.Context, id uuid.UUID, designID, user, secret, ip string,
) (int64, error) {
	if s.lim == nil {
		return s.ValidateToken(ctx, id, designID, user, secret)
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, user, ipHash)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, errs.ErrRateLimited
	}

	version, err := s.ValidateToken(ctx, id, designID, user, secret)
	if err != nil {
		if !errors.Is(err, errs.ErrSessionNotFound) {
			return 0, err
		}
		if blocked, _, ferr := s.lim.Failure(ctx, user, ipHash); ferr == nil && blocked {
			return 0, errs.ErrRateLimited
		}
		return 0, err
	}

	// best-effort reset
	_ = s.lim.Success(ctx, user, ipHash)
	return version, nil
}

// SweepExpired deletes expired tokens.
func (s *HandshakeServiceImpl) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}
