package dispatch

import (
	"context"
	"fmt"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session"
)

type commandProcessor struct {
	content ContentLog
}

func (commandProcessor) Type() ops.Type { return ops.TypeCommand }

func (commandProcessor) Decode(raw []byte) (ops.Operation, error) {
	op, err := ops.Decode[ops.Command](raw)
	if err != nil {
		return nil, err
	}
	if len(op.(*ops.Command).Command) == 0 {
		return nil, fmt.Errorf("%w: empty command body", errs.ErrProtocolViolation)
	}
	return op, nil
}

// Process stores a local command, acknowledges it to the sender and sends
// the stored form to everyone else. Remote commands are already stored and
// are relayed as is.
func (p commandProcessor) Process(ctx context.Context, es *session.EditingSession, sc session.Context, op ops.Operation) error {
	cmd := op.(*ops.Command)
	if isRemote(op) {
		relay(es, cmd)
		return nil
	}

	user, err := sender(es, sc)
	if err != nil {
		return err
	}
	version, err := p.content.Append(ctx, user, es.DesignID(), model.ContentCommand, string(cmd.Command))
	if err != nil {
		es.SendTo(ops.NewCommandStorageError(cmd.CommandID, err), sc)
		return fmt.Errorf("append command %d: %w", cmd.CommandID, err)
	}

	es.SendTo(ops.NewCommandAck(cmd.CommandID, version), sc)
	full := ops.NewCommand(version, cmd.Command, user, false)
	es.SendToOthers(full, sc)
	es.Publish(ctx, full)
	return nil
}
