package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/transport"
	"github.com/redis/go-redis/v9"
)

// Publisher fans a comment event out to every topic that can render it.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

type redisPublisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisPublisher(client redis.UniversalClient, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{
		client: client,
		logger: logger,
	}
}

// Topics returns where an event is published: always the discussion topic,
// plus the thread topic for replies.
func Topics(ev model.Event) []transport.Topic {
	topics := []transport.Topic{transport.DiscussionTopic(ev.DiscussionID)}
	if !ev.IsRootLevel() {
		if rootID, ok := ev.ThreadRootID(); ok {
			topics = append(topics, transport.ThreadTopic(rootID))
		}
	}
	return topics
}

func (p *redisPublisher) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	topics := Topics(ev)
	pipe := p.client.Pipeline()
	for _, t := range topics {
		pipe.Publish(ctx, t.String(), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.logger.InfoContext(ctx, "published comment event",
		"event_type", ev.Type,
		"comment_id", ev.Data.ID,
		"discussion_id", ev.DiscussionID,
		"topics", len(topics))
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
