package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
)

type counterRecord struct {
	DesignID string
	Version  int64
}

// contentRecord is stored by value semantics: records are copied before mutation.
type contentRecord struct {
	DesignID  string
	Version   int64
	Type      model.ContentType
	Data      string
	CreatedBy string
	CreatedOn time.Time
	Reverted  bool
}

func (r *contentRecord) entry() model.ContentEntry {
	return model.ContentEntry{
		DesignID:  r.DesignID,
		Version:   r.Version,
		Type:      r.Type,
		Data:      r.Data,
		CreatedBy: r.CreatedBy,
		CreatedOn: r.CreatedOn,
		Reverted:  r.Reverted,
	}
}

// ContentRepo implements ContentRepository in memory.
type ContentRepo struct {
	db  *DB
	now func() time.Time
}

// NewContentRepo constructs an in-memory content repository.
func NewContentRepo(db *DB) *ContentRepo {
	return &ContentRepo{db: db, now: time.Now}
}

// Append stores a new entry. The memdb write transaction is exclusive, which
// makes the read-increment-insert of the per-design counter atomic.
func (r *ContentRepo) Append(
	_ context.Context, user, designID string, typ model.ContentType, data string,
) (int64, error) {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	var next int64 = 1
	raw, err := txn.First(tblCounters, "id", designID)
	if err != nil {
		return 0, fmt.Errorf("find counter of %s: %w", designID, err)
	}
	if raw != nil {
		next = raw.(*counterRecord).Version + 1
	}
	if err := txn.Insert(tblCounters, &counterRecord{DesignID: designID, Version: next}); err != nil {
		return 0, fmt.Errorf("update counter of %s: %w", designID, err)
	}
	rec := &contentRecord{
		DesignID:  designID,
		Version:   next,
		Type:      typ,
		Data:      data,
		CreatedBy: user,
		CreatedOn: r.now().UTC(),
	}
	if err := txn.Insert(tblContent, rec); err != nil {
		return 0, fmt.Errorf("insert content of %s: %w", designID, err)
	}
	txn.Commit()
	return next, nil
}

// MarkReverted flags a not yet reverted command as reverted.
func (r *ContentRepo) MarkReverted(_ context.Context, designID string, version int64) (bool, error) {
	return r.setReverted(designID, version, true)
}

// MarkUnreverted clears the reverted flag of a reverted command.
func (r *ContentRepo) MarkUnreverted(_ context.Context, designID string, version int64) (bool, error) {
	return r.setReverted(designID, version, false)
}

func (r *ContentRepo) setReverted(designID string, version int64, reverted bool) (bool, error) {
	txn := r.db.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblContent, "id", designID, version)
	if err != nil {
		return false, fmt.Errorf("find content %s@%d: %w", designID, version, err)
	}
	if raw == nil {
		return false, nil
	}
	cur := raw.(*contentRecord)
	if cur.Type != model.ContentCommand || cur.Reverted == reverted {
		return false, nil
	}
	upd := *cur
	upd.Reverted = reverted
	if err := txn.Insert(tblContent, &upd); err != nil {
		return false, fmt.Errorf("update content %s@%d: %w", designID, version, err)
	}
	txn.Commit()
	return true, nil
}

// entries returns all records of a design in ascending version order.
func (r *ContentRepo) entries(designID string) ([]*contentRecord, error) {
	txn := r.db.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblContent, "design_id", designID)
	if err != nil {
		return nil, fmt.Errorf("list content of %s: %w", designID, err)
	}
	var out []*contentRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*contentRecord))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// LatestDocument returns the newest document snapshot of a design.
func (r *ContentRepo) LatestDocument(_ context.Context, designID string) (model.ContentEntry, error) {
	recs, err := r.entries(designID)
	if err != nil {
		return model.ContentEntry{}, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Type == model.ContentDocument {
			return recs[i].entry(), nil
		}
	}
	return model.ContentEntry{}, errs.ErrNotFound
}

// CommandsSince returns commands strictly after the provided version, ascending.
func (r *ContentRepo) CommandsSince(_ context.Context, designID string, since int64) ([]model.ContentEntry, error) {
	recs, err := r.entries(designID)
	if err != nil {
		return nil, err
	}
	var out []model.ContentEntry
	for _, rec := range recs {
		if rec.Type == model.ContentCommand && rec.Version > since {
			out = append(out, rec.entry())
		}
	}
	return out, nil
}

// LatestCommand returns author and version of the newest command.
func (r *ContentRepo) LatestCommand(_ context.Context, designID string) (model.CommandInfo, error) {
	recs, err := r.entries(designID)
	if err != nil {
		return model.CommandInfo{}, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Type == model.ContentCommand {
			return model.CommandInfo{Author: recs[i].CreatedBy, Version: recs[i].Version}, nil
		}
	}
	return model.CommandInfo{}, errs.ErrNotFound
}

// LatestVersion returns the current maximum version of a design.
func (r *ContentRepo) LatestVersion(_ context.Context, designID string) (int64, error) {
	txn := r.db.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblCounters, "id", designID)
	if err != nil {
		return 0, fmt.Errorf("find counter of %s: %w", designID, err)
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*counterRecord).Version, nil
}
