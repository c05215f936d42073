package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/model"
	"github.com/cenkalti/backoff/v5"
)

var ErrClosed = errors.New("transport handle closed")

const maxLoggedPayload = 256

// Listener receives events for the topics its handle subscribed to.
// OnReconnect is called after the connection was lost and re-established;
// events published in between may have been missed.
type Listener interface {
	OnEvent(ctx context.Context, ev model.Event)
	OnReconnect(ctx context.Context)
}

// ListenerFunc adapts a plain function to a Listener that ignores reconnects.
type ListenerFunc func(ctx context.Context, ev model.Event)

func (f ListenerFunc) OnEvent(ctx context.Context, ev model.Event) { f(ctx, ev) }

func (ListenerFunc) OnReconnect(context.Context) {}

type Config struct {
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	ReceiveTimeout time.Duration
}

type Stats struct {
	Connected  bool
	Reconnects int
	Dropped    int
	Handles    int
	Topics     int
}

// Client owns at most one broker connection, shared by every open Handle.
// The connection is opened by the first Connect and closed when the last
// handle is closed. Subscribed topics are tracked apart from the connection
// and restored on every reconnect.
type Client struct {
	broker Broker
	cfg    Config

	mu        sync.Mutex
	handles   map[*Handle]struct{}
	topics    map[Topic]int
	conn      Conn
	cancel    context.CancelFunc
	stoppedCh chan struct{}
	stats     Stats
}

func NewClient(broker Broker, cfg Config) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 30 * time.Second
	}
	return &Client{
		broker:  broker,
		cfg:     cfg,
		handles: make(map[*Handle]struct{}),
		topics:  make(map[Topic]int),
	}
}

// Connect registers l and returns a handle for it. The first handle starts the
// connection loop; later ones share it.
func (c *Client) Connect(ctx context.Context, l Listener) *Handle {
	h := &Handle{client: c, listener: l, topics: make(map[Topic]int)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handles[h] = struct{}{}
	if c.cancel == nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		runCtx = logger.WithLogFields(runCtx, logger.LogFields{Component: "discussion.transport.client"})
		c.cancel = cancel
		c.stoppedCh = make(chan struct{})
		go c.run(runCtx, c.stoppedCh)
	}
	return h
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Handles = len(c.handles)
	s.Topics = len(c.topics)
	return s
}

func (c *Client) run(ctx context.Context, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	connectedBefore := false
	for {
		conn, err := c.broker.Dial(ctx)
		if err == nil {
			err = c.attach(ctx, conn)
			if err != nil {
				_ = conn.Close()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := c.nextWait(b)
			slog.WarnContext(ctx, "broker connect failed", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		b.Reset()
		if connectedBefore {
			slog.InfoContext(ctx, "broker connection restored")
			c.notifyReconnect(ctx)
		} else {
			slog.InfoContext(ctx, "broker connected")
		}
		connectedBefore = true

		err = c.receive(ctx, conn)
		c.detach(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		wait := c.nextWait(b)
		slog.WarnContext(ctx, "broker connection lost", "error", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (c *Client) nextWait(b *backoff.ExponentialBackOff) time.Duration {
	wait := b.NextBackOff()
	if wait < 0 {
		wait = c.cfg.MaxBackoff
	}
	return wait
}

// attach restores every desired topic on a fresh connection and makes it current.
func (c *Client) attach(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	topics := slices.Sorted(maps.Keys(c.topics))
	if err := conn.Subscribe(ctx, topics...); err != nil {
		return fmt.Errorf("restoring %d subscriptions: %w", len(topics), err)
	}
	c.conn = conn
	c.stats.Connected = true
	return nil
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.stats.Connected = false
	}
}

// dropConnLocked closes the current connection so the run loop redials and
// re-subscribes every desired topic. Must be called with c.mu held.
func (c *Client) dropConnLocked() {
	conn := c.conn
	c.conn = nil
	c.stats.Connected = false
	_ = conn.Close()
}

func (c *Client) receive(ctx context.Context, conn Conn) error {
	for {
		frame, err := conn.Receive(ctx, c.cfg.ReceiveTimeout)
		if errors.Is(err, ErrIdle) {
			if err := conn.Ping(ctx); err != nil {
				return fmt.Errorf("ping after idle: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		c.deliver(ctx, frame)
	}
}

func (c *Client) deliver(ctx context.Context, frame Frame) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Topic: logger.Ptr(frame.Topic.String())})

	ev, err := model.ParseEvent(frame.Payload)
	if err != nil {
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		slog.WarnContext(ctx, "dropping malformed event",
			"error", err,
			"payload", logger.Truncate(string(frame.Payload), maxLoggedPayload))
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(ev.DiscussionID),
		EventType:    logger.Ptr(string(ev.Type)),
	})

	for _, l := range c.listenersFor(frame.Topic) {
		dispatch(ctx, func() { l.OnEvent(ctx, ev) })
	}
}

func (c *Client) notifyReconnect(ctx context.Context) {
	c.mu.Lock()
	c.stats.Reconnects++
	listeners := make([]Listener, 0, len(c.handles))
	for h := range c.handles {
		listeners = append(listeners, h.listener)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		dispatch(ctx, func() { l.OnReconnect(ctx) })
	}
}

func (c *Client) listenersFor(topic Topic) []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Listener
	for h := range c.handles {
		if h.topics[topic] > 0 {
			out = append(out, h.listener)
		}
	}
	return out
}

// dropTopic must be called with c.mu held.
func (c *Client) dropTopic(ctx context.Context, topic Topic, n int) {
	c.topics[topic] -= n
	if c.topics[topic] > 0 {
		return
	}
	delete(c.topics, topic)
	if c.conn == nil {
		return
	}
	if err := c.conn.Unsubscribe(ctx, topic); err != nil {
		slog.WarnContext(ctx, "broker unsubscribe failed", "topic", topic, "error", err)
	}
}

// dispatch runs a listener callback, keeping a panicking listener from taking
// down the receive loop.
func dispatch(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in transport listener", "panic", r)
		}
	}()
	fn()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Handle is one caller's view of the shared connection.
type Handle struct {
	client   *Client
	listener Listener
	topics   map[Topic]int
	closed   bool
}

// Subscribe registers interest in topic and returns a function that cancels
// only this subscription. The broker sees one subscribe per topic no matter
// how many handles want it.
func (h *Handle) Subscribe(ctx context.Context, topic Topic) (func(), error) {
	c := h.client
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Topic:     logger.Ptr(topic.String()),
		Component: "discussion.transport.client",
	})

	c.mu.Lock()
	if h.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	h.topics[topic]++
	c.topics[topic]++
	if c.topics[topic] == 1 && c.conn != nil {
		if err := c.conn.Subscribe(ctx, topic); err != nil {
			slog.WarnContext(ctx, "broker subscribe failed, dropping connection", "error", err)
			c.dropConnLocked()
		}
	}
	c.mu.Unlock()

	slog.DebugContext(ctx, "subscribed")

	releaseCtx := context.WithoutCancel(ctx)
	var once sync.Once
	return func() {
		once.Do(func() { h.release(releaseCtx, topic) })
	}, nil
}

func (h *Handle) release(ctx context.Context, topic Topic) {
	c := h.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.closed || h.topics[topic] == 0 {
		return
	}
	h.topics[topic]--
	if h.topics[topic] == 0 {
		delete(h.topics, topic)
	}
	c.dropTopic(ctx, topic, 1)
	slog.DebugContext(ctx, "unsubscribed")
}

// Topics returns the topics this handle is subscribed to.
func (h *Handle) Topics() []Topic {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return slices.Sorted(maps.Keys(h.topics))
}

// Close releases every subscription of the handle. Closing the last handle
// closes the connection and waits for the receive loop to exit.
func (h *Handle) Close() error {
	c := h.client
	ctx := logger.WithLogFields(context.Background(), logger.LogFields{Component: "discussion.transport.client"})

	c.mu.Lock()
	if h.closed {
		c.mu.Unlock()
		return nil
	}
	h.closed = true
	for topic, n := range h.topics {
		c.dropTopic(ctx, topic, n)
	}
	h.topics = nil
	delete(c.handles, h)

	var stoppedCh chan struct{}
	if len(c.handles) == 0 && c.cancel != nil {
		c.cancel()
		c.cancel = nil
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
			c.stats.Connected = false
		}
		stoppedCh = c.stoppedCh
	}
	c.mu.Unlock()

	if stoppedCh != nil {
		<-stoppedCh
		slog.InfoContext(ctx, "broker connection closed")
	}
	return nil
}
