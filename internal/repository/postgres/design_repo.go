package postgres

import (
	"context"
	"errors"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/jackc/pgx/v5"
)

// DesignRepo implements DesignRepository using PostgreSQL.
type DesignRepo struct{ db *DB }

// NewDesignRepo constructs a design metadata repository.
func NewDesignRepo(db *DB) *DesignRepo { return &DesignRepo{db: db} }

// GetMetadata selects name, description and tags of a design.
func (r *DesignRepo) GetMetadata(ctx context.Context, designID string) (model.DesignMetadata, error) {
	const q = `SELECT name, description, tags FROM designs WHERE design_id=$1`
	var m model.DesignMetadata
	if err := r.db.Pool.QueryRow(ctx, q, designID).Scan(&m.Name, &m.Description, &m.Tags); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DesignMetadata{}, errs.ErrNotFound
		}
		return model.DesignMetadata{}, err
	}
	return m, nil
}

// UpdateMetadata overwrites name, description and tags of a design.
func (r *DesignRepo) UpdateMetadata(ctx context.Context, designID string, m model.DesignMetadata) error {
	const q = `UPDATE designs SET name=$2, description=$3, tags=$4, modified_on=now() WHERE design_id=$1`
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := r.db.Pool.Exec(ctx, q, designID, m.Name, m.Description, tags)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
