package feed

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisSource subscribes to Redis pub/sub channels. A broken connection ends the
// stream with an error; it is never resubscribed behind the caller's back.
type RedisSource struct {
	client redis.UniversalClient
}

func NewRedisSource(client redis.UniversalClient) *RedisSource {
	return &RedisSource{client: client}
}

func (r *RedisSource) Subscribe(ctx context.Context, topic string) (Stream, error) {
	ps := r.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so a dead server fails here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	return &redisStream{ps: ps}, nil
}

type redisStream struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

func (s *redisStream) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if s.closed.Load() {
			return nil, ErrStreamClosed
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.ps.Close()
}

// RedisPublisher publishes serialized findings with PUBLISH.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}
