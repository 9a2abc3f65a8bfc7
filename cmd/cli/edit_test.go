package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func Test_editURL(t *testing.T) {
	t.Parallel()

	u, err := editURL("http://localhost:8080/", "d 1", "id", "alice", "s&x")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/designs/d%201/ws?secret=s%26x&uuid=id&user=alice", u)

	u, err = editURL("https://collab.example.com", "d1", "id", "alice", "s")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "wss://collab.example.com/designs/d1/ws?"))

	_, err = editURL("ftp://x", "d1", "id", "alice", "s")
	require.Error(t, err)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func Test_edit_SendsLinesAndPrintsReplies(t *testing.T) {
	t.Parallel()
	srv := echoServer(t)

	in := strings.NewReader("{\"type\":\"undo\"}\n\n{\"type\":\"redo\"}\n")
	var out syncBuffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, edit(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), in, &out))
	require.Equal(t, "{\"type\":\"undo\"}\n{\"type\":\"redo\"}\n", out.String())
}

func Test_edit_RejectedHandshake(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := edit(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), strings.NewReader(""), &syncBuffer{})
	require.ErrorContains(t, err, "401")
}
