package fanout

import (
	"context"
	"sync"
)

const memoryQueueSize = 256

// Hub is an in-process topic exchange shared by several Memory brokers, each
// standing for one node.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	hub    *Hub
	design string
	node   string
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

// Close detaches the subscription and stops its delivery goroutine.
func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.topics[s.design]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.topics, s.design)
			}
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *memorySub) run(h Handler) {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.queue:
			h(payload)
		}
	}
}

// Memory is a broker bound to a Hub under one node id.
type Memory struct {
	hub  *Hub
	node string
}

// NewMemory returns a broker for node on hub.
func NewMemory(hub *Hub, node string) *Memory {
	return &Memory{hub: hub, node: node}
}

// Subscribe registers h for designID. Deliveries run on a dedicated goroutine.
func (m *Memory) Subscribe(_ context.Context, designID string, h Handler) (Subscription, error) {
	sub := &memorySub{
		hub:    m.hub,
		design: designID,
		node:   m.node,
		queue:  make(chan []byte, memoryQueueSize),
		done:   make(chan struct{}),
	}
	m.hub.mu.Lock()
	subs, ok := m.hub.topics[designID]
	if !ok {
		subs = make(map[*memorySub]struct{})
		m.hub.topics[designID] = subs
	}
	subs[sub] = struct{}{}
	m.hub.mu.Unlock()

	go sub.run(h)
	return sub, nil
}

// Publish enqueues payload to every subscription of other nodes.
func (m *Memory) Publish(ctx context.Context, designID string, payload []byte) error {
	m.hub.mu.RLock()
	targets := make([]*memorySub, 0, len(m.hub.topics[designID]))
	for sub := range m.hub.topics[designID] {
		if sub.node != m.node {
			targets = append(targets, sub)
		}
	}
	m.hub.mu.RUnlock()

	for _, sub := range targets {
		msg := append([]byte(nil), payload...)
		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close is a no-op; subscriptions are closed individually.
func (m *Memory) Close() error { return nil }
