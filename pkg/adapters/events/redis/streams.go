package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	readBlock = time.Second
	readCount = 10
)

// StreamsEventBus implements EventBus using Redis Streams. Every subscriber
// reads the stream on its own from the point it subscribed, so all
// renderers, in any process, see every snapshot in order.
type StreamsEventBus struct {
	client *redis.Client
	logger *zap.Logger
	maxLen int64

	mu      sync.Mutex
	nextID  uint64
	cancels map[string]map[uint64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamsEventBus creates a new Redis Streams event bus. maxLen caps
// each stream approximately; zero leaves it unbounded.
func NewStreamsEventBus(client *redis.Client, maxLen int64, logger *zap.Logger) *StreamsEventBus {
	return &StreamsEventBus{
		client:  client,
		logger:  logger,
		maxLen:  maxLen,
		cancels: make(map[string]map[uint64]context.CancelFunc),
	}
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Uint64("generation", event.Generation),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe delivers events published on topic after this call until ctx is
// cancelled or the topic is unsubscribed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	// Resolve the current tail so the reader starts after it
	lastID := "0"
	msgs, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read stream tail: %w", err)
	}
	if len(msgs) > 0 {
		lastID = msgs[0].ID
	}

	subCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.cancels[topic] == nil {
		e.cancels[topic] = make(map[uint64]context.CancelFunc)
	}
	e.cancels[topic][id] = cancel
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("from_id", lastID))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeReader(topic, id)
		e.readStream(subCtx, streamKey, lastID, handler)
	}()

	return nil
}

// removeReader forgets a reader once it has stopped
func (e *StreamsEventBus) removeReader(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	readers, ok := e.cancels[topic]
	if !ok {
		return
	}
	if cancel, ok := readers[id]; ok {
		cancel()
		delete(readers, id)
	}
	if len(readers) == 0 {
		delete(e.cancels, topic)
	}
}

// Subscribers returns the number of live readers on topic
func (e *StreamsEventBus) Subscribers(topic string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels[topic])
}

// readStream reads events from a stream
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No new messages
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader of a topic
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

// Close stops every reader and waits for them to exit. The Redis client is
// closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	for topic, cancels := range e.cancels {
		for _, cancel := range cancels {
			cancel()
		}
		delete(e.cancels, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("council:events:%s", topic)
}
