package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a broker over Redis PUBLISH/SUBSCRIBE. Each design maps to the
// channel prefix+designID.
type Redis struct {
	client *redis.Client
	prefix string
	node   string
	log    *zap.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix, node string, log *zap.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, node: node, log: log}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, prefix, node string, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, prefix, node, log), nil
}

func (r *Redis) channel(designID string) string { return r.prefix + designID }

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Close() error { return s.ps.Close() }

// Subscribe waits for the subscription to be confirmed, then delivers
// messages of other nodes to h from a dedicated goroutine.
func (r *Redis) Subscribe(ctx context.Context, designID string, h Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel(designID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", designID, err)
	}

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			m, err := decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("fanout: bad message", zap.String("design_id", designID), zap.Error(err))
				continue
			}
			if m.Node == r.node {
				continue
			}
			h(m.Op)
		}
	}()
	return &redisSub{ps: ps}, nil
}

// Publish sends payload to every node subscribed to designID.
func (r *Redis) Publish(ctx context.Context, designID string, payload []byte) error {
	data, err := encode(r.node, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(designID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", designID, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
