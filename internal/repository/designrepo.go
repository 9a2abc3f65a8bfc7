package repository

import (
	"context"

	"github.com/and161185/collab-studio/internal/model"
)

// DesignRepository reads and writes descriptive design metadata.
type DesignRepository interface {
	// GetMetadata loads the metadata of a design.
	GetMetadata(ctx context.Context, designID string) (model.DesignMetadata, error)
	// UpdateMetadata replaces the metadata of a design.
	UpdateMetadata(ctx context.Context, designID string, meta model.DesignMetadata) error
}
