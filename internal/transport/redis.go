package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Dial(ctx context.Context) (Conn, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &redisConn{pubsub: b.client.Subscribe(ctx)}, nil
}

type redisConn struct {
	pubsub *redis.PubSub
}

func (c *redisConn) Subscribe(ctx context.Context, topics ...Topic) error {
	if len(topics) == 0 {
		return nil
	}
	if err := c.pubsub.Subscribe(ctx, channels(topics)...); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	return nil
}

func (c *redisConn) Unsubscribe(ctx context.Context, topics ...Topic) error {
	if len(topics) == 0 {
		return nil
	}
	if err := c.pubsub.Unsubscribe(ctx, channels(topics)...); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	return nil
}

func (c *redisConn) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	for {
		msg, err := c.pubsub.ReceiveTimeout(ctx, timeout)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Frame{}, ErrIdle
			}
			return Frame{}, err
		}

		switch m := msg.(type) {
		case *redis.Message:
			return Frame{Topic: Topic(m.Channel), Payload: []byte(m.Payload)}, nil
		case *redis.Subscription, *redis.Pong:
			// confirmations, nothing to deliver
		default:
			return Frame{}, fmt.Errorf("unexpected pubsub message %T", msg)
		}
	}
}

func (c *redisConn) Ping(ctx context.Context) error {
	return c.pubsub.Ping(ctx)
}

func (c *redisConn) Close() error {
	return c.pubsub.Close()
}

func channels(topics []Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}
