package session

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/ops"
	"github.com/and161185/collab-studio/internal/session/sessiontest"
)

func newSession(t *testing.T) *EditingSession {
	t.Helper()
	return NewEditingSession("d1", nil, zaptest.NewLogger(t), metrics.NewWithRegistry(prometheus.NewRegistry()))
}

func TestEditingSession_Membership(t *testing.T) {
	t.Parallel()
	es := newSession(t)
	a, b := sessiontest.New("s1"), sessiontest.New("s2")

	require.True(t, es.IsEmpty())
	es.Join(a, "alice")
	es.Join(b, "bob")
	require.False(t, es.IsEmpty())

	u, ok := es.User("s2")
	require.True(t, ok)
	require.Equal(t, "bob", u)
	require.Equal(t, []model.Participant{{SessionID: "s1", User: "alice"}, {SessionID: "s2", User: "bob"}}, es.Participants())

	require.False(t, es.Leave(a))
	_, ok = es.User("s1")
	require.False(t, ok)
	require.True(t, es.Leave(b))
	require.True(t, es.IsEmpty())
}

func TestEditingSession_SendToOthersExcludesSender(t *testing.T) {
	t.Parallel()
	es := newSession(t)
	a, b, c := sessiontest.New("s1"), sessiontest.New("s2"), sessiontest.New("s3")
	es.Join(a, "alice")
	es.Join(b, "bob")
	es.Join(c, "carol")

	es.SendToOthers(ops.NewUndo(3), b)

	require.Len(t, a.Messages(), 1)
	require.Empty(t, b.Messages())
	require.Len(t, c.Messages(), 1)
	require.JSONEq(t, `{"type":"undo","contentVersion":3}`, a.Messages()[0])
}

func TestEditingSession_SendFailureDoesNotStopBroadcast(t *testing.T) {
	t.Parallel()
	es := newSession(t)
	a, b, c := sessiontest.New("s1"), sessiontest.New("s2"), sessiontest.New("s3")
	b.SendErr = errors.New("broken pipe")
	es.Join(a, "alice")
	es.Join(b, "bob")
	es.Join(c, "carol")

	es.SendToAll(ops.NewJoin("dave", "s4"))
	es.SendTo(ops.NewAck(ops.TypeRedo, 1), b)

	require.Len(t, a.Messages(), 1)
	require.Empty(t, b.Messages())
	require.Len(t, c.Messages(), 1)
}

func TestEditingSession_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	br := &brokerStub{pubErr: errors.New("redis down")}
	es := NewEditingSession("d1", br, zaptest.NewLogger(t), nil)
	a := sessiontest.New("s1")
	es.Join(a, "alice")

	require.NotPanics(t, func() { es.Publish(context.Background(), ops.NewJoin("alice", "s1")) })
	require.Equal(t, 1, br.published)
}

func TestEditingSession_RemoteRoster(t *testing.T) {
	t.Parallel()
	es := newSession(t)

	require.True(t, es.AddRemote(model.Participant{SessionID: "r2", User: "bob"}))
	require.True(t, es.AddRemote(model.Participant{SessionID: "r1", User: "alice"}))
	require.False(t, es.AddRemote(model.Participant{SessionID: "r1", User: "alice"}), "known connection")
	require.Equal(t, []model.Participant{
		{SessionID: "r1", User: "alice"},
		{SessionID: "r2", User: "bob"},
	}, es.RemoteParticipants())
	require.Empty(t, es.Participants(), "remote participants are not members")

	require.True(t, es.RemoveRemote("r1"))
	require.False(t, es.RemoveRemote("r1"))
	require.Equal(t, []model.Participant{{SessionID: "r2", User: "bob"}}, es.RemoteParticipants())
}
