// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/collab-studio/internal/model"
)

// ContentRepository is the append-only, versioned content log of designs.
type ContentRepository interface {
	// Append stores a new entry and returns its version. Versions are assigned
	// atomically per design: no two appends for one design share a version.
	Append(ctx context.Context, user, designID string, typ model.ContentType, data string) (int64, error)

	// MarkReverted flags a command entry as reverted. It reports false when the
	// entry is absent or already reverted.
	MarkReverted(ctx context.Context, designID string, version int64) (bool, error)

	// MarkUnreverted clears the reverted flag. It reports false when the entry
	// is absent or not reverted.
	MarkUnreverted(ctx context.Context, designID string, version int64) (bool, error)

	// LatestDocument returns the most recent document snapshot.
	LatestDocument(ctx context.Context, designID string) (model.ContentEntry, error)

	// CommandsSince returns command entries with version greater than since, ascending.
	CommandsSince(ctx context.Context, designID string, since int64) ([]model.ContentEntry, error)

	// LatestCommand returns author and version of the most recent command.
	LatestCommand(ctx context.Context, designID string) (model.CommandInfo, error)

	// LatestVersion returns the highest version of the design, 0 if it has no content.
	LatestVersion(ctx context.Context, designID string) (int64, error)
}
