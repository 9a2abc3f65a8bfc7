package memory

import (
	"context"
	"fmt"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
)

type designRecord struct {
	DesignID string
	Meta     model.DesignMetadata
}

// DesignRepo implements DesignRepository in memory.
type DesignRepo struct{ db *DB }

// NewDesignRepo constructs an in-memory design metadata repository.
func NewDesignRepo(db *DB) *DesignRepo { return &DesignRepo{db: db} }

// GetMetadata returns the metadata of a design. Designs that have content but
// no stored metadata report empty metadata, mirroring the SQL designs row.
func (r *DesignRepo) GetMetadata(_ context.Context, designID string) (model.DesignMetadata, error) {
	txn := r.db.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDesigns, "id", designID)
	if err != nil {
		return model.DesignMetadata{}, fmt.Errorf("find design %s: %w", designID, err)
	}
	if raw != nil {
		return raw.(*designRecord).Meta, nil
	}
	counter, err := txn.First(tblCounters, "id", designID)
	if err != nil {
		return model.DesignMetadata{}, fmt.Errorf("find counter of %s: %w", designID, err)
	}
	if counter == nil {
		return model.DesignMetadata{}, errs.ErrNotFound
	}
	return model.DesignMetadata{}, nil
}

// UpdateMetadata replaces the metadata of a known design.
func (r *DesignRepo) UpdateMetadata(_ context.Context, designID string, meta model.DesignMetadata) error {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	counter, err := txn.First(tblCounters, "id", designID)
	if err != nil {
		return fmt.Errorf("find counter of %s: %w", designID, err)
	}
	if counter == nil {
		return errs.ErrNotFound
	}
	tags := append([]string(nil), meta.Tags...)
	meta.Tags = tags
	if err := txn.Insert(tblDesigns, &designRecord{DesignID: designID, Meta: meta}); err != nil {
		return fmt.Errorf("update design %s: %w", designID, err)
	}
	txn.Commit()
	return nil
}
