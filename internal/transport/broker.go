package transport

import (
	"context"
	"errors"
	"time"
)

// ErrIdle is returned by Conn.Receive when nothing arrived within the timeout.
var ErrIdle = errors.New("no frame received before timeout")

// Frame is one raw message delivered on a topic.
type Frame struct {
	Topic   Topic
	Payload []byte
}

// Broker opens connections to a message broker.
type Broker interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live broker connection. Subscribe, Unsubscribe and Ping may be
// called while another goroutine is blocked in Receive.
type Conn interface {
	Subscribe(ctx context.Context, topics ...Topic) error
	Unsubscribe(ctx context.Context, topics ...Topic) error
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)
	Ping(ctx context.Context) error
	Close() error
}
