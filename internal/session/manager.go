package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collab-studio/internal/fanout"
	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
)

// Rollupper collapses pending commands of a design into a new snapshot.
type Rollupper interface {
	Rollup(ctx context.Context, designID string) error
}

// RemoteDispatcher processes operations received from other nodes.
type RemoteDispatcher interface {
	DispatchRemote(ctx context.Context, es *EditingSession, raw []byte)
}

// Manager is the process-wide registry of open editing sessions.
type Manager struct {
	broker        fanout.Broker
	rollup        Rollupper
	remote        RemoteDispatcher
	rollupTimeout time.Duration
	subTimeout    time.Duration
	log           *zap.Logger
	metrics       *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*EditingSession
	closing  map[string]chan struct{}
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRollupTimeout bounds the rollup run when a session closes.
func WithRollupTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.rollupTimeout = d }
}

// WithSubscribeTimeout bounds subscribing a new session to other nodes.
func WithSubscribeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.subTimeout = d }
}

// WithMetrics records session gauges on mt.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager constructs a Manager. rollup and remote may be nil.
func NewManager(broker fanout.Broker, rollup Rollupper, remote RemoteDispatcher, log *zap.Logger, opts ...ManagerOption) *Manager {
	if broker == nil {
		broker = fanout.NewLocal()
	}
	m := &Manager{
		broker:        broker,
		rollup:        rollup,
		remote:        remote,
		rollupTimeout: 30 * time.Second,
		subTimeout:    5 * time.Second,
		log:           log,
		sessions:      make(map[string]*EditingSession),
		closing:       make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AdmitFunc runs right after a connection joined, with the session's
// operation lock held.
type AdmitFunc func(es *EditingSession)

// Join adds sc as user to the session of designID, creating the session when
// none is open. If a previous session of the design is still rolling up, Join
// waits for it to finish first. The membership insert and admit run under the
// session's operation lock, so no operation is processed in between.
func (m *Manager) Join(ctx context.Context, designID string, sc Context, user string, admit AdmitFunc) (*EditingSession, error) {
	for {
		m.mu.Lock()
		done, busy := m.closing[designID]
		if !busy {
			break
		}
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	es, ok := m.sessions[designID]
	if !ok {
		es = NewEditingSession(designID, m.broker, m.log, m.metrics)
		m.sessions[designID] = es
		m.metrics.SessionOpened()
	}
	created := !ok
	es.pending++
	m.mu.Unlock()

	es.Lock()
	defer es.Unlock()

	if created {
		m.subscribe(ctx, es)
	}

	m.mu.Lock()
	es.Join(sc, user)
	es.pending--
	m.mu.Unlock()

	if admit != nil {
		admit(es)
	}
	if created && es.subscribed() {
		// other nodes answer with a join per participant
		es.Publish(ctx, ops.NewListClients())
	}
	return es, nil
}

// subscribe attaches es to other nodes. It runs with the operation lock of es
// held and without the registry lock, so a slow broker only delays this design.
func (m *Manager) subscribe(ctx context.Context, es *EditingSession) {
	designID := es.DesignID()
	sctx, cancel := context.WithTimeout(ctx, m.subTimeout)
	defer cancel()

	sub, err := m.broker.Subscribe(sctx, designID, func(raw []byte) {
		if m.Lookup(designID) != es || m.remote == nil {
			return
		}
		m.remote.DispatchRemote(context.Background(), es, raw)
	})
	if err != nil {
		m.log.Error("fanout subscribe failed", zap.String("design_id", designID), zap.Error(err))
		return
	}
	es.attach(sub)
	if m.Lookup(designID) != es {
		// shut down while subscribing
		_ = es.detach()
	}
}

// Leave removes sc from es. When es becomes empty it is removed from the
// registry and closed, which runs the rollup.
func (m *Manager) Leave(ctx context.Context, es *EditingSession, sc Context) {
	m.mu.Lock()
	empty := es.Leave(sc)
	if !empty || es.pending > 0 || m.sessions[es.DesignID()] != es {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, es.DesignID())
	done := make(chan struct{})
	m.closing[es.DesignID()] = done
	m.mu.Unlock()

	m.Close(ctx, es)

	m.mu.Lock()
	delete(m.closing, es.DesignID())
	m.mu.Unlock()
	close(done)
}

// Close detaches es from other nodes and rolls up its pending commands.
// Rollup failures are logged only.
func (m *Manager) Close(ctx context.Context, es *EditingSession) {
	if err := es.detach(); err != nil {
		m.log.Warn("fanout unsubscribe failed", zap.String("design_id", es.DesignID()), zap.Error(err))
	}
	m.metrics.SessionClosed()
	if m.rollup == nil {
		return
	}

	es.Lock()
	defer es.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.rollupTimeout)
	defer cancel()

	start := time.Now()
	err := m.rollup.Rollup(rctx, es.DesignID())
	if err != nil {
		m.metrics.ObserveRollup("error", time.Since(start))
		m.log.Error("rollup on close failed", zap.String("design_id", es.DesignID()), zap.Error(err))
		return
	}
	m.metrics.ObserveRollup("ok", time.Since(start))
}

// Lookup returns the open session of designID, or nil.
func (m *Manager) Lookup(designID string) *EditingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[designID]
}

// Designs lists designs with an open session, sorted.
func (m *Manager) Designs() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Participants lists the local participants of designID.
func (m *Manager) Participants(designID string) []model.Participant {
	es := m.Lookup(designID)
	if es == nil {
		return nil
	}
	return es.Participants()
}

// Shutdown closes every open session: member connections are closed and the
// pending commands rolled up.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	open := make([]*EditingSession, 0, len(m.sessions))
	for id, es := range m.sessions {
		open = append(open, es)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, es := range open {
		wg.Add(1)
		go func(es *EditingSession) {
			defer wg.Done()
			es.closeMembers()
			m.Close(ctx, es)
		}(es)
	}
	wg.Wait()
}
