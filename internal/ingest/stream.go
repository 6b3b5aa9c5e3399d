package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ChangeEvent is one entity-value change on the Redis stream.
type ChangeEvent struct {
	EntityID string
	Value    string
	SeenAt   time.Time
}

// ChangePublisher writes entity-change events to the stream that feeds the
// realtime alert path.
type ChangePublisher struct {
	client *redis.Client
	stream string
}

// NewChangePublisher creates a publisher for the given stream key.
func NewChangePublisher(client *redis.Client, stream string) *ChangePublisher {
	return &ChangePublisher{client: client, stream: stream}
}

// Publish appends one change event.
func (p *ChangePublisher) Publish(ctx context.Context, entityID, value string, seenAt time.Time) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"entity_id": entityID,
			"value":     value,
			"seen_at":   seenAt.UTC().Format(time.RFC3339),
		},
	}).Err()
}

// ChangeHandler consumes one change event. Handler errors are logged by
// the consumer; the message is acknowledged either way so a poison message
// cannot wedge the group.
type ChangeHandler func(ctx context.Context, event ChangeEvent)

// StreamConsumer reads entity-change events with a Redis consumer group.
type StreamConsumer struct {
	client  *redis.Client
	stream  string
	group   string
	name    string
	handler ChangeHandler
	logger  *zap.Logger
}

// NewStreamConsumer creates a consumer; Start creates the group if needed.
func NewStreamConsumer(client *redis.Client, stream, group, name string, handler ChangeHandler, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		client:  client,
		stream:  stream,
		group:   group,
		name:    name,
		handler: handler,
		logger:  logger,
	}
}

// Start blocks consuming the stream until the context is cancelled.
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("stream consumer started",
		zap.String("stream", c.stream), zap.String("group", c.group))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    64,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read change stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, msg)
				if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					c.logger.Warn("failed to ack stream message",
						zap.String("id", msg.ID), zap.Error(err))
				}
			}
		}
	}
}

func (c *StreamConsumer) dispatch(ctx context.Context, msg redis.XMessage) {
	event := ChangeEvent{}
	if v, ok := msg.Values["entity_id"].(string); ok {
		event.EntityID = v
	}
	if v, ok := msg.Values["value"].(string); ok {
		event.Value = v
	}
	if v, ok := msg.Values["seen_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			event.SeenAt = ts
		}
	}
	if event.EntityID == "" {
		c.logger.Warn("dropping malformed change event", zap.String("id", msg.ID))
		return
	}
	c.handler(ctx, event)
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
