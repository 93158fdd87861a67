package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "eventgate:"
	publishTimeout = 5 * time.Second
)

// RedisBroker implements Broker over Redis pub/sub so every API instance sees
// every notification.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker creates a Redis-backed broker.
func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger}
}

// Publish sends a notification to the topic's Redis channel.
func (r *RedisBroker) Publish(ctx context.Context, topic, event string, payload interface{}) error {
	msg, err := newMessage(topic, event, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+topic, body).Err()
}

// Subscribe listens on the topic's Redis channel and calls fn for each message.
func (r *RedisBroker) Subscribe(topic string, fn func(Message)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channelPrefix+topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.logger.Warn("drop malformed notification", zap.String("topic", topic), zap.Error(err))
					continue
				}
				fn(msg)
			}
		}
	}()
	return func() {
		cancelCtx()
		<-done
	}, nil
}
