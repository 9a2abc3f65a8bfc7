package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session"
)

type batchProcessor struct {
	d *Dispatcher
}

func (batchProcessor) Type() ops.Type { return ops.TypeBatch }

func (batchProcessor) Decode(raw []byte) (ops.Operation, error) {
	return ops.Decode[ops.Batch](raw)
}

// Process routes every sub-operation in list order with the lock already
// held. A failing sub-operation does not undo earlier ones nor stop later ones.
func (p batchProcessor) Process(ctx context.Context, es *session.EditingSession, sc session.Context, op ops.Operation) error {
	b := op.(*ops.Batch)
	var failed []error
	for i, raw := range b.Operations {
		if err := p.d.route(ctx, es, sc, raw, b.Source); err != nil {
			failed = append(failed, fmt.Errorf("operation %d: %w", i, err))
		}
	}
	return errors.Join(failed...)
}
