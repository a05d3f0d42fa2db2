package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares events between API instances over a Redis Pub/Sub channel.
// Every instance publishes to the channel and delivers what it receives to its
// own hub, itself included.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisRelay constructs a relay on channel.
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = "hallpass:events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Publish sends event to every listening instance.
func (r *RedisRelay) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Start subscribes to the channel and hands every received event to deliver.
// It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context, deliver func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.listen(pubsub.Channel(), deliver, r.done)

	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel))
	return nil
}

func (r *RedisRelay) listen(messages <-chan *redis.Message, deliver func(Event), done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.logger.Warn("discarding malformed relay message", zap.Error(err))
			continue
		}
		deliver(event)
	}
}

// Stop closes the subscription and waits for the listener to drain.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		r.logger.Warn("failed to close relay subscription", zap.Error(err))
	}
	<-done
}
