package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/metrics"
)

// RedisBroadcaster shares changes between processes attached to the same Redis.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	logger  logger.Logger
	now     func() time.Time
}

func NewRedisBroadcaster(client *redis.Client, channel, originID string, log logger.Logger) *RedisBroadcaster {
	if originID == "" {
		originID = uuid.NewString()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		origin:  originID,
		logger:  log.WithFields(map[string]interface{}{"component": "broadcast", "origin": originID}),
		now:     time.Now,
	}
}

func (b *RedisBroadcaster) OriginID() string { return b.origin }

func (b *RedisBroadcaster) Publish(ctx context.Context, topic Topic, key string, value []byte) error {
	payload, err := json.Marshal(Message{
		Topic:      topic,
		StorageKey: key,
		NewValue:   value,
		OriginID:   b.origin,
		SentAt:     b.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	metrics.BroadcastsPublished.WithLabelValues("redis").Inc()
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers messages from
// other origins on a background goroutine in arrival order.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for raw := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.logger.Warn("dropping malformed broadcast", map[string]interface{}{"error": err})
				continue
			}
			if msg.OriginID == b.origin {
				continue
			}
			handler(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			pubsub.Close()
			<-done
		})
	}, nil
}
