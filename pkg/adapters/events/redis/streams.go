package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

const (
	streamPrefix     = "teamflow:events:"
	deadLetterSuffix = ":dead"
	readCount        = 10
	readBlock        = time.Second
)

// Options configures a StreamsEventBus.
type Options struct {
	// ConsumerGroup and ConsumerName identify this process for work topics.
	ConsumerGroup string
	ConsumerName  string
	// MaxLen caps each stream approximately. Zero leaves streams unbounded.
	MaxLen int64
	// Broadcast lists topics delivered to every subscriber instead of being
	// split across the consumer group. Progress and session events are
	// broadcast so each replica's WebSocket hub sees all of them.
	Broadcast []string
}

// StreamsEventBus implements EventBus using Redis Streams. Work topics use a
// consumer group; messages whose handler fails are copied to a dead-letter
// stream and acknowledged.
type StreamsEventBus struct {
	client    *redis.Client
	logger    *zap.Logger
	group     string
	consumer  string
	maxLen    int64
	broadcast map[string]bool

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc
}

// NewStreamsEventBus creates a new Redis Streams event bus.
func NewStreamsEventBus(client *redis.Client, opts Options, logger *zap.Logger) (*StreamsEventBus, error) {
	if opts.ConsumerGroup == "" || opts.ConsumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}

	broadcast := make(map[string]bool, len(opts.Broadcast))
	for _, topic := range opts.Broadcast {
		broadcast[topic] = true
	}

	return &StreamsEventBus{
		client:    client,
		logger:    logger,
		group:     opts.ConsumerGroup,
		consumer:  opts.ConsumerName,
		maxLen:    opts.MaxLen,
		broadcast: broadcast,
		cancels:   make(map[string][]context.CancelFunc),
	}, nil
}

// Publish appends event to the topic's stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := e.add(ctx, streamKey(topic), map[string]interface{}{"data": string(data)}); err != nil {
		return err
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.String("topic", topic))

	return nil
}

func (e *StreamsEventBus) add(ctx context.Context, key string, values map[string]interface{}) error {
	args := &redis.XAddArgs{Stream: key, Values: values}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", key, err)
	}
	return nil
}

// Subscribe starts a reader for topic until ctx is cancelled or the topic
// is unsubscribed.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	key := streamKey(topic)

	subCtx, cancel := context.WithCancel(ctx)

	if e.broadcast[topic] {
		// Only events published after subscribing are delivered.
		last := "$"
		if msgs, err := e.client.XRevRangeN(ctx, key, "+", "-", 1).Result(); err == nil {
			last = "0-0"
			if len(msgs) > 0 {
				last = msgs[0].ID
			}
		}
		e.track(topic, cancel)
		go e.readBroadcast(subCtx, topic, last, handler)
	} else {
		err := e.client.XGroupCreateMkStream(ctx, key, e.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			cancel()
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		e.track(topic, cancel)
		go e.readGroup(subCtx, topic, handler)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("topic", topic),
		zap.Bool("broadcast", e.broadcast[topic]),
		zap.String("consumer_group", e.group),
		zap.String("consumer", e.consumer))

	return nil
}

func (e *StreamsEventBus) track(topic string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[topic] = append(e.cancels[topic], cancel)
	e.mu.Unlock()
}

// readGroup consumes a work topic as a member of the consumer group
func (e *StreamsEventBus) readGroup(ctx context.Context, topic string, handler ports.EventHandler) {
	key := streamKey(topic)

	for ctx.Err() == nil {
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.group,
			Consumer: e.consumer,
			Streams:  []string{key, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if !e.readOK(ctx, topic, err) {
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := e.deliver(ctx, topic, msg, handler); err != nil {
					e.deadLetter(ctx, topic, msg, err)
				}
				if err := e.client.XAck(ctx, key, e.group, msg.ID).Err(); err != nil {
					e.logger.Error("failed to acknowledge message",
						zap.String("topic", topic),
						zap.String("message_id", msg.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// readBroadcast follows a broadcast topic from last without a group
func (e *StreamsEventBus) readBroadcast(ctx context.Context, topic, last string, handler ports.EventHandler) {
	key := streamKey(topic)

	for ctx.Err() == nil {
		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, last},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if !e.readOK(ctx, topic, err) {
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				last = msg.ID
				if err := e.deliver(ctx, topic, msg, handler); err != nil {
					e.logger.Warn("broadcast handler error",
						zap.String("topic", topic),
						zap.String("message_id", msg.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// readOK reports whether a read returned messages, backing off on errors
func (e *StreamsEventBus) readOK(ctx context.Context, topic string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return false
	}

	e.logger.Error("failed to read from stream",
		zap.String("topic", topic),
		zap.Error(err))

	select {
	case <-ctx.Done():
	case <-time.After(readBlock):
	}
	return false
}

// deliver decodes msg and runs handler. Malformed messages are reported as
// errors so they reach the dead-letter stream.
func (e *StreamsEventBus) deliver(ctx context.Context, topic string, msg redis.XMessage, handler ports.EventHandler) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return handler(ctx, event)
}

// deadLetter copies a failed message with its error to the topic's
// dead-letter stream
func (e *StreamsEventBus) deadLetter(ctx context.Context, topic string, msg redis.XMessage, cause error) {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["error"] = cause.Error()
	values["source_id"] = msg.ID

	e.logger.Error("event handler failed, moving to dead-letter stream",
		zap.String("topic", topic),
		zap.String("message_id", msg.ID),
		zap.Error(cause))

	if err := e.add(ctx, DeadLetterKey(topic), values); err != nil {
		e.logger.Error("failed to write dead letter",
			zap.String("topic", topic),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader started for topic
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.cancels[topic]
	delete(e.cancels, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops all readers. The Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	all := e.cancels
	e.cancels = make(map[string][]context.CancelFunc)
	e.mu.Unlock()

	for _, cancels := range all {
		for _, cancel := range cancels {
			cancel()
		}
	}
	return nil
}

// DeadLetterKey returns the dead-letter stream key for a topic
func DeadLetterKey(topic string) string {
	return streamKey(topic) + deadLetterSuffix
}

func streamKey(topic string) string {
	return streamPrefix + topic
}
