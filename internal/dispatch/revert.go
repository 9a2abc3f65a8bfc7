package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session"
)

// revertProcessor handles undo and redo, which differ only in the direction
// of the reverted flag.
type revertProcessor struct {
	kind    ops.Type
	content ContentLog
	mark    func(ctx context.Context, designID string, version int64) (bool, error)
}

func (p revertProcessor) Type() ops.Type { return p.kind }

func (p revertProcessor) Decode(raw []byte) (ops.Operation, error) {
	if p.kind == ops.TypeUndo {
		return ops.Decode[ops.Undo](raw)
	}
	return ops.Decode[ops.Redo](raw)
}

func (p revertProcessor) notice(version int64) ops.Operation {
	if p.kind == ops.TypeUndo {
		return ops.NewUndo(version)
	}
	return ops.NewRedo(version)
}

func version(op ops.Operation) int64 {
	switch v := op.(type) {
	case *ops.Undo:
		return v.ContentVersion
	case *ops.Redo:
		return v.ContentVersion
	}
	return 0
}

// folded reports whether version is already part of the latest document. Such
// commands are no longer replayed, so flipping their flag has no effect.
func (p revertProcessor) folded(ctx context.Context, designID string, version int64) (bool, error) {
	doc, err := p.content.LatestDocument(ctx, designID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return version <= doc.Version, nil
}

// Process flips the reverted flag of the target command. A target already in
// the requested state, or already folded into a document, is reported to the
// sender only as deferred.
func (p revertProcessor) Process(ctx context.Context, es *session.EditingSession, sc session.Context, op ops.Operation) error {
	if isRemote(op) {
		relay(es, op)
		return nil
	}
	if _, err := sender(es, sc); err != nil {
		return err
	}

	v := version(op)
	folded, err := p.folded(ctx, es.DesignID(), v)
	if err != nil {
		es.SendTo(ops.NewVersionStorageError(p.kind, v, err), sc)
		return fmt.Errorf("%s version %d: %w", p.kind, v, err)
	}
	if folded {
		es.SendTo(ops.NewDeferred(p.kind, v), sc)
		return nil
	}

	changed, err := p.mark(ctx, es.DesignID(), v)
	if err != nil {
		es.SendTo(ops.NewVersionStorageError(p.kind, v, err), sc)
		return fmt.Errorf("%s version %d: %w", p.kind, v, err)
	}
	if !changed {
		es.SendTo(ops.NewDeferred(p.kind, v), sc)
		return nil
	}

	es.SendTo(ops.NewAck(p.kind, v), sc)
	notice := p.notice(v)
	es.SendToOthers(notice, sc)
	es.Publish(ctx, notice)
	return nil
}
