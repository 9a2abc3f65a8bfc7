// Package dispatch routes operations of a live editing session to the
// processor registered for their type.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session"
)

// ContentLog is the part of the content log the processors write to.
type ContentLog interface {
	Append(ctx context.Context, user, designID string, typ model.ContentType, data string) (int64, error)
	MarkReverted(ctx context.Context, designID string, version int64) (bool, error)
	MarkUnreverted(ctx context.Context, designID string, version int64) (bool, error)
	CommandsSince(ctx context.Context, designID string, since int64) ([]model.ContentEntry, error)
	LatestDocument(ctx context.Context, designID string) (model.ContentEntry, error)
}

// Processor implements the state transition of one operation type. sc is nil
// for operations received from other nodes.
type Processor interface {
	Type() ops.Type
	Decode(raw []byte) (ops.Operation, error)
	Process(ctx context.Context, es *session.EditingSession, sc session.Context, op ops.Operation) error
}

// Dispatcher decodes inbound messages and routes them to processors.
type Dispatcher struct {
	content    ContentLog
	processors map[ops.Type]Processor
	timeout    time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds the processing of one inbound message.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) { ds.timeout = d }
}

// WithMetrics records operation counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// New builds a dispatcher with every known processor registered.
func New(content ContentLog, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		content:    content,
		processors: make(map[ops.Type]Processor),
		timeout:    10 * time.Second,
		log:        log,
	}
	for _, o := range opts {
		o(d)
	}
	d.register(
		commandProcessor{content: content},
		revertProcessor{kind: ops.TypeUndo, content: content, mark: content.MarkReverted},
		revertProcessor{kind: ops.TypeRedo, content: content, mark: content.MarkUnreverted},
		membershipProcessor{kind: ops.TypeJoin},
		membershipProcessor{kind: ops.TypeLeave},
		selectionProcessor{},
		batchProcessor{d: d},
		listClientsProcessor{},
	)
	return d
}

func (d *Dispatcher) register(ps ...Processor) {
	for _, p := range ps {
		d.processors[p.Type()] = p
	}
}

// Dispatch processes a message received from the local connection sc.
// Unknown or malformed messages are logged and dropped with a nil error;
// processing failures are logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, es *session.EditingSession, sc session.Context, raw []byte) error {
	es.Lock()
	defer es.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.route(ctx, es, sc, raw, ops.SourceLocal)
	if err != nil {
		d.log.Error("operation failed",
			zap.String("design_id", es.DesignID()),
			zap.String("session_id", sc.ID()),
			zap.Error(err))
	}
	return err
}

// DispatchRemote processes a message published by another node.
func (d *Dispatcher) DispatchRemote(ctx context.Context, es *session.EditingSession, raw []byte) {
	es.Lock()
	defer es.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.route(ctx, es, nil, raw, ops.SourceRemote); err != nil {
		d.log.Error("remote operation failed", zap.String("design_id", es.DesignID()), zap.Error(err))
	}
}

// route runs one message through its processor. The operation lock is held.
func (d *Dispatcher) route(
	ctx context.Context, es *session.EditingSession, sc session.Context, raw []byte, source ops.Source,
) (err error) {
	env, err := ops.DecodeEnvelope(raw)
	if err != nil {
		d.drop(es, "malformed", err)
		return nil
	}
	p, ok := d.processors[env.Type]
	if !ok {
		d.drop(es, "unknown_type", fmt.Errorf("%w: %q", errs.ErrUnknownOperation, env.Type))
		return nil
	}
	op, err := p.Decode(raw)
	if err != nil {
		d.drop(es, "malformed", fmt.Errorf("%s: %w", env.Type, err))
		return nil
	}
	op.Env().Source = source

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("processor panic",
				zap.String("design_id", es.DesignID()),
				zap.String("type", string(env.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s: processor panic: %v", env.Type, r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		d.metrics.ObserveOperation(string(env.Type), string(source), result)
	}()

	if err := p.Process(ctx, es, sc, op); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}

func (d *Dispatcher) drop(es *session.EditingSession, reason string, err error) {
	d.metrics.Dropped(reason)
	d.log.Error("operation dropped",
		zap.String("design_id", es.DesignID()),
		zap.String("reason", reason),
		zap.Error(err))
}

// Admit returns the hook that announces a newly joined connection. It is
// meant for session.Manager.Join.
func (d *Dispatcher) Admit(ctx context.Context, sc session.Context, user string, since int64) session.AdmitFunc {
	return func(es *session.EditingSession) {
		d.Join(ctx, es, sc, user, since)
	}
}

// Join introduces sc to the session. The newcomer receives one join per
// other participant, local ones first, and every command stored after version
// since; then the other participants and nodes learn about the newcomer. The
// operation lock must be held.
func (d *Dispatcher) Join(ctx context.Context, es *session.EditingSession, sc session.Context, user string, since int64) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, p := range es.Participants() {
		if p.SessionID != sc.ID() {
			es.SendTo(ops.NewJoin(p.User, p.SessionID), sc)
		}
	}
	for _, p := range es.RemoteParticipants() {
		es.SendTo(ops.NewJoin(p.User, p.SessionID), sc)
	}

	if since > 0 {
		cmds, err := d.content.CommandsSince(ctx, es.DesignID(), since)
		if err != nil {
			d.log.Error("catch-up failed",
				zap.String("design_id", es.DesignID()),
				zap.String("session_id", sc.ID()),
				zap.Int64("since", since),
				zap.Error(err))
		}
		for _, c := range cmds {
			es.SendTo(ops.NewCommand(c.Version, []byte(c.Data), c.CreatedBy, c.Reverted), sc)
		}
	}

	join := ops.NewJoin(user, sc.ID())
	es.SendToOthers(join, sc)
	es.Publish(ctx, join)
}

// Leave announces that sc is leaving the session.
func (d *Dispatcher) Leave(ctx context.Context, es *session.EditingSession, sc session.Context, user string) {
	es.Lock()
	defer es.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	leave := ops.NewLeave(user, sc.ID())
	es.SendToOthers(leave, sc)
	es.Publish(ctx, leave)
}

func sender(es *session.EditingSession, sc session.Context) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("%w: local operation without connection", errs.ErrProtocolViolation)
	}
	user, ok := es.User(sc.ID())
	if !ok {
		return "", fmt.Errorf("%w: connection %s is not joined", errs.ErrProtocolViolation, sc.ID())
	}
	return user, nil
}

// relay forwards an operation received from another node to every local member.
func relay(es *session.EditingSession, op ops.Operation) {
	op.Env().Source = ""
	es.SendToAll(op)
}

func isRemote(op ops.Operation) bool { return op.Env().Source == ops.SourceRemote }

// remoteOnly is the error for operations that may only arrive from other nodes.
func remoteOnly(op ops.Operation) error {
	return fmt.Errorf("%w: %s with source local", errs.ErrProtocolViolation, op.Env().Type)
}
