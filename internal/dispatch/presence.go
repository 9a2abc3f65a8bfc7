package dispatch

import (
	"context"

	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session"
)

// membershipProcessor keeps the roster of participants on other nodes and
// relays changes to it. Local connections announce themselves through
// Dispatcher.Join and Leave.
type membershipProcessor struct {
	kind ops.Type
}

func (p membershipProcessor) Type() ops.Type { return p.kind }

func (p membershipProcessor) Decode(raw []byte) (ops.Operation, error) {
	if p.kind == ops.TypeJoin {
		return ops.Decode[ops.Join](raw)
	}
	return ops.Decode[ops.Leave](raw)
}

// Process relays an announcement only when it changes the roster, so repeated
// announcements of one participant reach local members once.
func (membershipProcessor) Process(_ context.Context, es *session.EditingSession, _ session.Context, op ops.Operation) error {
	if !isRemote(op) {
		return remoteOnly(op)
	}
	var changed bool
	switch v := op.(type) {
	case *ops.Join:
		changed = es.AddRemote(model.Participant{SessionID: v.ID, User: v.User})
	case *ops.Leave:
		changed = es.RemoveRemote(v.ID)
	}
	if changed {
		relay(es, op)
	}
	return nil
}

type selectionProcessor struct{}

func (selectionProcessor) Type() ops.Type { return ops.TypeSelection }

func (selectionProcessor) Decode(raw []byte) (ops.Operation, error) {
	return ops.Decode[ops.Selection](raw)
}

// Process shares a local selection with everyone else, stamped with the
// sender's identity. Nothing is stored.
func (selectionProcessor) Process(ctx context.Context, es *session.EditingSession, sc session.Context, op ops.Operation) error {
	sel := op.(*ops.Selection)
	if isRemote(op) {
		relay(es, sel)
		return nil
	}

	user, err := sender(es, sc)
	if err != nil {
		return err
	}
	out := &ops.Selection{
		Envelope:  ops.Envelope{Type: ops.TypeSelection},
		User:      user,
		ID:        sc.ID(),
		Selection: sel.Selection,
	}
	es.SendToOthers(out, sc)
	es.Publish(ctx, out)
	return nil
}

// listClientsProcessor answers another node's request by re-announcing every
// local participant.
type listClientsProcessor struct{}

func (listClientsProcessor) Type() ops.Type { return ops.TypeListClients }

func (listClientsProcessor) Decode(raw []byte) (ops.Operation, error) {
	return ops.Decode[ops.ListClients](raw)
}

func (listClientsProcessor) Process(ctx context.Context, es *session.EditingSession, _ session.Context, op ops.Operation) error {
	if !isRemote(op) {
		return remoteOnly(op)
	}
	for _, p := range es.Participants() {
		es.Publish(ctx, ops.NewJoin(p.User, p.SessionID))
	}
	return nil
}
