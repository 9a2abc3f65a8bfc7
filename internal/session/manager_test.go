package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/collab-studio/internal/fanout"
	"github.com/and161185/collab-studio/internal/session/sessiontest"
)

type brokerStub struct {
	mu        sync.Mutex
	pubErr    error
	subErr    error
	published int
	payloads  []string
	handlers  map[string]fanout.Handler
	closed    int
}

type stubSub struct{ b *brokerStub }

func (s stubSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closed++
	return nil
}

func (b *brokerStub) Subscribe(_ context.Context, designID string, h fanout.Handler) (fanout.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	if b.handlers == nil {
		b.handlers = make(map[string]fanout.Handler)
	}
	b.handlers[designID] = h
	return stubSub{b: b}, nil
}

func (b *brokerStub) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published++
	b.payloads = append(b.payloads, string(payload))
	return b.pubErr
}

func (b *brokerStub) Close() error { return nil }

func (b *brokerStub) deliver(designID, payload string) {
	b.mu.Lock()
	h := b.handlers[designID]
	b.mu.Unlock()
	h([]byte(payload))
}

type rollupStub struct {
	mu      sync.Mutex
	calls   []string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *rollupStub) Rollup(_ context.Context, designID string) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, designID)
	return r.err
}

func (r *rollupStub) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type remoteStub struct {
	mu   sync.Mutex
	got  []string
	sess []*EditingSession
}

func (r *remoteStub) DispatchRemote(_ context.Context, es *EditingSession, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(raw))
	r.sess = append(r.sess, es)
}

func TestManager_JoinCreatesOnceAndAnnounces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	br := &brokerStub{}
	m := NewManager(br, nil, nil, zaptest.NewLogger(t))

	es1, err := m.Join(ctx, "d1", sessiontest.New("s1"), "alice", nil)
	require.NoError(t, err)
	es2, err := m.Join(ctx, "d1", sessiontest.New("s2"), "bob", nil)
	require.NoError(t, err)

	require.Same(t, es1, es2)
	require.Equal(t, []string{"d1"}, m.Designs())
	require.Len(t, m.Participants("d1"), 2)
	require.Equal(t, []string{`{"type":"list-clients"}`}, br.payloads)
}

func TestManager_LeaveLastClosesAndRollsUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	br := &brokerStub{}
	ru := &rollupStub{}
	m := NewManager(br, ru, nil, zaptest.NewLogger(t))
	a, b := sessiontest.New("s1"), sessiontest.New("s2")

	es, err := m.Join(ctx, "d1", a, "alice", nil)
	require.NoError(t, err)
	_, err = m.Join(ctx, "d1", b, "bob", nil)
	require.NoError(t, err)

	m.Leave(ctx, es, a)
	require.NotNil(t, m.Lookup("d1"))
	require.Empty(t, ru.Calls())

	m.Leave(ctx, es, b)
	require.Nil(t, m.Lookup("d1"))
	require.Equal(t, []string{"d1"}, ru.Calls())
	require.Equal(t, 1, br.closed)
	require.Nil(t, m.Participants("d1"))
}

func TestManager_RollupFailureIsLogged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ru := &rollupStub{err: errors.New("command application failed")}
	m := NewManager(nil, ru, nil, zaptest.NewLogger(t))
	a := sessiontest.New("s1")

	es, err := m.Join(ctx, "d1", a, "alice", nil)
	require.NoError(t, err)
	require.NotPanics(t, func() { m.Leave(ctx, es, a) })
	require.Nil(t, m.Lookup("d1"))
}

func TestManager_JoinWaitsForInFlightRollup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ru := &rollupStub{block: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(nil, ru, nil, zaptest.NewLogger(t))
	a := sessiontest.New("s1")

	es, err := m.Join(ctx, "d1", a, "alice", nil)
	require.NoError(t, err)

	left := make(chan struct{})
	go func() {
		m.Leave(ctx, es, a)
		close(left)
	}()
	<-ru.started

	joined := make(chan *EditingSession)
	go func() {
		next, err := m.Join(ctx, "d1", sessiontest.New("s2"), "bob", nil)
		if err != nil {
			t.Errorf("join: %v", err)
		}
		joined <- next
	}()

	select {
	case <-joined:
		t.Fatal("join completed while rollup was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(ru.block)
	<-left
	next := <-joined
	require.NotSame(t, es, next)
}

func TestManager_JoinCancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	ru := &rollupStub{block: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(nil, ru, nil, zaptest.NewLogger(t))
	a := sessiontest.New("s1")

	es, err := m.Join(context.Background(), "d1", a, "alice", nil)
	require.NoError(t, err)
	go m.Leave(context.Background(), es, a)
	<-ru.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Join(ctx, "d1", sessiontest.New("s2"), "bob", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(ru.block)
}

func TestManager_RemoteDeliveriesReachDispatcher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	br := &brokerStub{}
	rd := &remoteStub{}
	m := NewManager(br, nil, rd, zaptest.NewLogger(t))
	a := sessiontest.New("s1")

	es, err := m.Join(ctx, "d1", a, "alice", nil)
	require.NoError(t, err)
	br.deliver("d1", `{"type":"selection"}`)
	require.Equal(t, []string{`{"type":"selection"}`}, rd.got)
	require.Same(t, es, rd.sess[0])

	m.Leave(ctx, es, a)
	br.deliver("d1", `{"type":"join"}`)
	require.Len(t, rd.got, 1, "deliveries for closed sessions are dropped")
}

func TestManager_SubscribeFailureKeepsSessionLocal(t *testing.T) {
	t.Parallel()
	br := &brokerStub{subErr: errors.New("redis down")}
	m := NewManager(br, nil, nil, zaptest.NewLogger(t))

	es, err := m.Join(context.Background(), "d1", sessiontest.New("s1"), "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, es)
	require.Zero(t, br.published)
}

func TestManager_ShutdownRollsUpEverySession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ru := &rollupStub{}
	m := NewManager(nil, ru, nil, zaptest.NewLogger(t), WithRollupTimeout(time.Second))
	a, b := sessiontest.New("s1"), sessiontest.New("s2")

	_, err := m.Join(ctx, "d1", a, "alice", nil)
	require.NoError(t, err)
	_, err = m.Join(ctx, "d2", b, "bob", nil)
	require.NoError(t, err)

	m.Shutdown(ctx)
	require.ElementsMatch(t, []string{"d1", "d2"}, ru.Calls())
	require.True(t, a.Closed())
	require.True(t, b.Closed())
	require.Empty(t, m.Designs())
}

func TestManager_AdmitRunsUnderOperationLock(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, nil, zaptest.NewLogger(t))

	var seen []string
	es, err := m.Join(context.Background(), "d1", sessiontest.New("s1"), "alice", func(es *EditingSession) {
		require.False(t, es.opMu.TryLock(), "operation lock must be held")
		for _, p := range es.Participants() {
			seen = append(seen, p.User)
		}
	})
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, seen)
	require.True(t, es.opMu.TryLock())
	es.opMu.Unlock()
}

type blockingBroker struct {
	*brokerStub
	block   string
	entered chan struct{}
}

func (b *blockingBroker) Subscribe(ctx context.Context, designID string, h fanout.Handler) (fanout.Subscription, error) {
	if designID == b.block {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.brokerStub.Subscribe(ctx, designID, h)
}

func TestManager_SlowSubscribeDelaysOnlyItsDesign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	br := &blockingBroker{brokerStub: &brokerStub{}, block: "slow", entered: make(chan struct{})}
	m := NewManager(br, nil, nil, zaptest.NewLogger(t), WithSubscribeTimeout(time.Second))

	slow := make(chan *EditingSession, 1)
	go func() {
		es, err := m.Join(ctx, "slow", sessiontest.New("s1"), "alice", nil)
		if err != nil {
			es = nil
		}
		slow <- es
	}()
	<-br.entered

	start := time.Now()
	_, err := m.Join(ctx, "other", sessiontest.New("s2"), "bob", nil)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.NotNil(t, m.Lookup("slow"))

	es := <-slow
	require.NotNil(t, es)
	require.False(t, es.subscribed(), "subscribe gave up after its timeout")
	require.Equal(t, "s1", es.Participants()[0].SessionID)

	br.mu.Lock()
	defer br.mu.Unlock()
	require.Equal(t, 1, br.published, "only the subscribed session asks for remote clients")
}
