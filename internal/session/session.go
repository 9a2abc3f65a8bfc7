package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/collab-studio/internal/fanout"
	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
)

// EditingSession is the set of connections editing one design.
//
// The operation lock serializes operation processing for the design. Internal
// locks guard the membership maps and the broker subscription.
type EditingSession struct {
	designID string
	broker   fanout.Broker
	log      *zap.Logger
	metrics  *metrics.Metrics

	opMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]Context
	users    map[string]string
	remote   map[string]string // participants on other nodes, by connection id

	subMu sync.Mutex
	sub   fanout.Subscription

	// guarded by the manager's registry lock
	pending int
}

// NewEditingSession returns an empty session for designID.
func NewEditingSession(designID string, broker fanout.Broker, log *zap.Logger, m *metrics.Metrics) *EditingSession {
	if broker == nil {
		broker = fanout.NewLocal()
	}
	return &EditingSession{
		designID: designID,
		broker:   broker,
		log:      log.With(zap.String("design_id", designID)),
		metrics:  m,
		sessions: make(map[string]Context),
		users:    make(map[string]string),
		remote:   make(map[string]string),
	}
}

// DesignID returns the design being edited.
func (es *EditingSession) DesignID() string { return es.designID }

// Lock acquires the operation lock.
func (es *EditingSession) Lock() { es.opMu.Lock() }

// Unlock releases the operation lock.
func (es *EditingSession) Unlock() { es.opMu.Unlock() }

// Join adds sc as user.
func (es *EditingSession) Join(sc Context, user string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.sessions[sc.ID()] = sc
	es.users[sc.ID()] = user
}

// Leave removes sc and reports whether the session is now empty.
func (es *EditingSession) Leave(sc Context) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	delete(es.sessions, sc.ID())
	delete(es.users, sc.ID())
	return len(es.sessions) == 0
}

// IsEmpty reports whether no connection is joined.
func (es *EditingSession) IsEmpty() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.sessions) == 0
}

// User returns the user joined under connection id.
func (es *EditingSession) User(id string) (string, bool) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	u, ok := es.users[id]
	return u, ok
}

// Participants lists joined connections ordered by connection id.
func (es *EditingSession) Participants() []model.Participant {
	es.mu.RLock()
	out := make([]model.Participant, 0, len(es.users))
	for id, u := range es.users {
		out = append(out, model.Participant{SessionID: id, User: u})
	}
	es.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// AddRemote records a participant joined on another node. It reports false
// when the connection was already known.
func (es *EditingSession) AddRemote(p model.Participant) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.remote[p.SessionID]; ok {
		return false
	}
	es.remote[p.SessionID] = p.User
	return true
}

// RemoveRemote forgets a participant of another node. It reports false when
// the connection was unknown.
func (es *EditingSession) RemoveRemote(id string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.remote[id]; !ok {
		return false
	}
	delete(es.remote, id)
	return true
}

// RemoteParticipants lists participants of other nodes ordered by connection id.
func (es *EditingSession) RemoteParticipants() []model.Participant {
	es.mu.RLock()
	out := make([]model.Participant, 0, len(es.remote))
	for id, u := range es.remote {
		out = append(out, model.Participant{SessionID: id, User: u})
	}
	es.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (es *EditingSession) attach(sub fanout.Subscription) {
	es.subMu.Lock()
	es.sub = sub
	es.subMu.Unlock()
}

// detach closes the subscription to other nodes, if any.
func (es *EditingSession) detach() error {
	es.subMu.Lock()
	sub := es.sub
	es.sub = nil
	es.subMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (es *EditingSession) subscribed() bool {
	es.subMu.Lock()
	defer es.subMu.Unlock()
	return es.sub != nil
}

func (es *EditingSession) members(exclude Context) []Context {
	es.mu.RLock()
	defer es.mu.RUnlock()
	out := make([]Context, 0, len(es.sessions))
	for id, sc := range es.sessions {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func encodeOp(op ops.Operation) ([]byte, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Env().Type, err)
	}
	return b, nil
}

// SendTo delivers op to sc. Failures are logged and counted, never returned.
func (es *EditingSession) SendTo(op ops.Operation, sc Context) {
	msg, err := encodeOp(op)
	if err != nil {
		es.log.Error("send: encode failed", zap.Error(err))
		return
	}
	es.send(msg, sc)
}

func (es *EditingSession) send(msg []byte, sc Context) {
	if err := sc.Send(msg); err != nil {
		es.metrics.SendFailed()
		es.log.Warn("send failed", zap.String("session_id", sc.ID()), zap.Error(err))
	}
}

// SendToOthers delivers op to every member except exclude.
func (es *EditingSession) SendToOthers(op ops.Operation, exclude Context) {
	es.broadcast(op, exclude)
}

// SendToAll delivers op to every member.
func (es *EditingSession) SendToAll(op ops.Operation) {
	es.broadcast(op, nil)
}

func (es *EditingSession) broadcast(op ops.Operation, exclude Context) {
	targets := es.members(exclude)
	if len(targets) == 0 {
		return
	}
	msg, err := encodeOp(op)
	if err != nil {
		es.log.Error("broadcast: encode failed", zap.Error(err))
		return
	}
	for _, sc := range targets {
		es.send(msg, sc)
	}
}

// Publish sends op to the other nodes editing this design. Failures are
// logged and counted; local delivery never waits on them.
func (es *EditingSession) Publish(ctx context.Context, op ops.Operation) {
	msg, err := encodeOp(op)
	if err != nil {
		es.log.Error("publish: encode failed", zap.Error(err))
		return
	}
	if err := es.broker.Publish(ctx, es.designID, msg); err != nil {
		es.metrics.PublishFailed()
		es.log.Error("publish failed", zap.String("type", string(op.Env().Type)), zap.Error(err))
	}
}

// closeMembers closes every joined connection.
func (es *EditingSession) closeMembers() {
	for _, sc := range es.members(nil) {
		if err := sc.Close(); err != nil {
			es.log.Debug("close member", zap.String("session_id", sc.ID()), zap.Error(err))
		}
	}
}
