package service

import (
	"context"
	"errors"

	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/repository"
)

// ContentService validates content log access from live sessions.
type ContentService interface {
	// Append stores an entry and returns its version.
	Append(ctx context.Context, user, designID string, typ model.ContentType, data string) (int64, error)
	// MarkReverted flags a command as reverted.
	MarkReverted(ctx context.Context, designID string, version int64) (bool, error)
	// MarkUnreverted clears the reverted flag of a command.
	MarkUnreverted(ctx context.Context, designID string, version int64) (bool, error)
	// CommandsSince returns commands after version, ascending.
	CommandsSince(ctx context.Context, designID string, since int64) ([]model.ContentEntry, error)
	// LatestDocument returns the most recent document snapshot.
	LatestDocument(ctx context.Context, designID string) (model.ContentEntry, error)
}

type ContentServiceImpl struct {
	repo    repository.ContentRepository
	maxSize int
}

// NewContentService constructs ContentService with an entry size limit in bytes.
func NewContentService(repo repository.ContentRepository, maxSize int) *ContentServiceImpl {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &ContentServiceImpl{repo: repo, maxSize: maxSize}
}

// Append validates input and delegates to the repository.
// Validation rules:
// - user and designID not empty
// - data not empty and at most maxSize bytes
func (s *ContentServiceImpl) Append(ctx context.Context, user, designID string, typ model.ContentType, data string) (int64, error) {
	if user == "" || designID == "" {
		return 0, errors.New("validation: empty user/designID")
	}
	if data == "" {
		return 0, errors.New("validation: empty data")
	}
	if len(data) > s.maxSize {
		return 0, errors.New("validation: entry too large")
	}
	return s.repo.Append(ctx, user, designID, typ, data)
}

// MarkReverted flips a command to reverted. Non-positive versions never match.
func (s *ContentServiceImpl) MarkReverted(ctx context.Context, designID string, version int64) (bool, error) {
	if version <= 0 {
		return false, nil
	}
	return s.repo.MarkReverted(ctx, designID, version)
}

// MarkUnreverted flips a command back. Non-positive versions never match.
func (s *ContentServiceImpl) MarkUnreverted(ctx context.Context, designID string, version int64) (bool, error) {
	if version <= 0 {
		return false, nil
	}
	return s.repo.MarkUnreverted(ctx, designID, version)
}

// CommandsSince returns all commands with version > since ordered by version ASC.
func (s *ContentServiceImpl) CommandsSince(ctx context.Context, designID string, since int64) ([]model.ContentEntry, error) {
	if since < 0 {
		return nil, errors.New("validation: negative since")
	}
	return s.repo.CommandsSince(ctx, designID, since)
}

// LatestDocument returns the most recent document snapshot of designID.
func (s *ContentServiceImpl) LatestDocument(ctx context.Context, designID string) (model.ContentEntry, error) {
	if designID == "" {
		return model.ContentEntry{}, errors.New("validation: empty designID")
	}
	return s.repo.LatestDocument(ctx, designID)
}
