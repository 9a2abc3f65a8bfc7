// Package sessiontest provides a recording session context for tests.
package sessiontest

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sessiontest: closed")

// Recorder is a session context that keeps every message sent to it.
type Recorder struct {
	id string

	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	SendErr error
}

// New returns a recorder with connection id.
func New(id string) *Recorder { return &Recorder{id: id} }

// ID returns the connection id.
func (r *Recorder) ID() string { return r.id }

// Send records msg.
func (r *Recorder) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.SendErr != nil {
		return r.SendErr
	}
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Messages returns the raw messages received so far.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = string(m)
	}
	return out
}

// Decoded returns received messages decoded as generic JSON objects.
func (r *Recorder) Decoded() []map[string]any {
	raw := r.Messages()
	out := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		var v map[string]any
		if err := json.Unmarshal([]byte(m), &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Types returns the type field of every received message.
func (r *Recorder) Types() []string {
	var out []string
	for _, m := range r.Decoded() {
		t, _ := m["type"].(string)
		out = append(out, t)
	}
	return out
}

// Reset drops recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
