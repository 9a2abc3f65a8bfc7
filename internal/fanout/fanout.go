// Package fanout carries operations between server nodes that host editing
// sessions for the same design.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/xid"
)

// Handler receives an operation published by another node.
type Handler func(payload []byte)

// Subscription is an active per-design subscription.
type Subscription interface {
	Close() error
}

// Broker publishes and subscribes operations on per-design topics. A broker
// never delivers a node's own publications back to it.
type Broker interface {
	Subscribe(ctx context.Context, designID string, h Handler) (Subscription, error)
	Publish(ctx context.Context, designID string, payload []byte) error
	Close() error
}

// NewNodeID returns a unique node identifier.
func NewNodeID() string { return xid.New().String() }

type message struct {
	Node string          `json:"node"`
	Op   json.RawMessage `json:"op"`
}

func encode(node string, payload []byte) ([]byte, error) {
	b, err := json.Marshal(message{Node: node, Op: payload})
	if err != nil {
		return nil, fmt.Errorf("encode fanout message: %w", err)
	}
	return b, nil
}

func decode(data []byte) (message, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return message{}, fmt.Errorf("decode fanout message: %w", err)
	}
	return m, nil
}

// Local is the single-node broker: nothing leaves the process.
type Local struct{}

// NewLocal returns the single-node broker.
func NewLocal() Local { return Local{} }

type nopSubscription struct{}

func (nopSubscription) Close() error { return nil }

// Subscribe returns a subscription that never delivers.
func (Local) Subscribe(context.Context, string, Handler) (Subscription, error) {
	return nopSubscription{}, nil
}

// Publish discards the payload.
func (Local) Publish(context.Context, string, []byte) error { return nil }

// Close is a no-op.
func (Local) Close() error { return nil }
