package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/jackc/pgx/v5"
)

// ContentRepo implements ContentRepository using PostgreSQL.
//
// Versions come from designs.content_version, bumped by an upsert inside the
// append transaction; the row lock serializes concurrent appends per design.
type ContentRepo struct{ db *DB }

// NewContentRepo constructs a content repository.
func NewContentRepo(db *DB) *ContentRepo { return &ContentRepo{db: db} }

// Append stores a new content entry and returns its version.
func (r *ContentRepo) Append(
	ctx context.Context, user, designID string, typ model.ContentType, data string,
) (version int64, err error) {
	const bump = `
INSERT INTO designs (design_id, content_version) VALUES ($1, 1)
ON CONFLICT (design_id) DO UPDATE SET content_version = designs.content_version + 1, modified_on = now()
RETURNING content_version`
	const ins = `INSERT INTO content (design_id, version, type, data, created_by) VALUES ($1,$2,$3,$4,$5)`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, bump, designID).Scan(&version); err != nil {
			return fmt.Errorf("bump version: %w", err)
		}
		if _, err := tx.Exec(ctx, ins, designID, version, int16(typ), data, user); err != nil {
			return fmt.Errorf("insert content: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// MarkReverted flags a not yet reverted command as reverted.
func (r *ContentRepo) MarkReverted(ctx context.Context, designID string, version int64) (bool, error) {
	const q = `UPDATE content SET reverted=true WHERE design_id=$1 AND version=$2 AND type=$3 AND reverted=false`
	return r.setReverted(ctx, q, designID, version)
}

// MarkUnreverted clears the reverted flag of a reverted command.
func (r *ContentRepo) MarkUnreverted(ctx context.Context, designID string, version int64) (bool, error) {
	const q = `UPDATE content SET reverted=false WHERE design_id=$1 AND version=$2 AND type=$3 AND reverted=true`
	return r.setReverted(ctx, q, designID, version)
}

func (r *ContentRepo) setReverted(ctx context.Context, q, designID string, version int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, q, designID, version, int16(model.ContentCommand))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LatestDocument returns the newest document snapshot of a design.
func (r *ContentRepo) LatestDocument(ctx context.Context, designID string) (model.ContentEntry, error) {
	const q = `
SELECT version, data, created_by, created_on
FROM content WHERE design_id=$1 AND type=$2
ORDER BY version DESC LIMIT 1`
	e := model.ContentEntry{DesignID: designID, Type: model.ContentDocument}
	err := r.db.Pool.QueryRow(ctx, q, designID, int16(model.ContentDocument)).
		Scan(&e.Version, &e.Data, &e.CreatedBy, &e.CreatedOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ContentEntry{}, errs.ErrNotFound
		}
		return model.ContentEntry{}, err
	}
	return e, nil
}

// CommandsSince returns commands strictly after the provided version, ascending.
func (r *ContentRepo) CommandsSince(ctx context.Context, designID string, since int64) ([]model.ContentEntry, error) {
	const q = `
SELECT version, data, created_by, created_on, reverted
FROM content
WHERE design_id=$1 AND type=$2 AND version>$3
ORDER BY version ASC`
	rows, err := r.db.Pool.Query(ctx, q, designID, int16(model.ContentCommand), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContentEntry
	for rows.Next() {
		var (
			ver      int64
			data     string
			by       string
			ts       time.Time
			reverted bool
		)
		if err = rows.Scan(&ver, &data, &by, &ts, &reverted); err != nil {
			return nil, err
		}
		out = append(out, model.ContentEntry{
			DesignID:  designID,
			Version:   ver,
			Type:      model.ContentCommand,
			Data:      data,
			CreatedBy: by,
			CreatedOn: ts,
			Reverted:  reverted,
		})
	}
	return out, rows.Err()
}

// LatestCommand returns author and version of the newest command.
func (r *ContentRepo) LatestCommand(ctx context.Context, designID string) (model.CommandInfo, error) {
	const q = `
SELECT created_by, version
FROM content WHERE design_id=$1 AND type=$2
ORDER BY version DESC LIMIT 1`
	var ci model.CommandInfo
	if err := r.db.Pool.QueryRow(ctx, q, designID, int16(model.ContentCommand)).Scan(&ci.Author, &ci.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CommandInfo{}, errs.ErrNotFound
		}
		return model.CommandInfo{}, err
	}
	return ci, nil
}

// LatestVersion returns the current maximum version of a design.
func (r *ContentRepo) LatestVersion(ctx context.Context, designID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(version),0) FROM content WHERE design_id=$1`
	var v int64
	if err := r.db.Pool.QueryRow(ctx, q, designID).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
