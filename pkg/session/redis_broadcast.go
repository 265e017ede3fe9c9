package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/agrinova/authd/pkg/observability"
)

// DefaultRedisChannel is the pub/sub channel used when none is given
const DefaultRedisChannel = "authd:session:events"

// RedisBroadcaster delivers session events between processes over Redis
// pub/sub
type RedisBroadcaster struct {
	redis    *redis.Client
	channel  string
	pubsub   *redis.PubSub
	handlers *handlerSet
	logger   *observability.Logger
	done     chan struct{}

	closeOnce sync.Once
}

// NewRedisBroadcaster subscribes to channel and waits for Redis to confirm
// the subscription, so events published after it returns are not missed
func NewRedisBroadcaster(ctx context.Context, redisClient *redis.Client, channel string, logger *observability.Logger) (*RedisBroadcaster, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	pubsub := redisClient.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b := &RedisBroadcaster{
		redis:    redisClient,
		channel:  channel,
		pubsub:   pubsub,
		handlers: newHandlerSet(),
		logger:   observability.OrNop(logger).WithComponent("redis_broadcaster"),
		done:     make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *RedisBroadcaster) run() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.WithError(err).Warn("discarding malformed session event")
			continue
		}
		b.dispatch(ev)
	}
}

func (b *RedisBroadcaster) dispatch(ev Event) {
	defer observability.RecoverPanic(b.logger, "redis session event handler")
	b.handlers.dispatch(ev)
}

// Publish sends ev to every subscriber of the channel
func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Subscribe registers handler for events received on the channel
func (b *RedisBroadcaster) Subscribe(handler func(Event)) (func(), error) {
	select {
	case <-b.done:
		return nil, ErrBroadcasterClosed
	default:
	}
	return b.handlers.add(handler), nil
}

// Close unsubscribes and stops delivery
func (b *RedisBroadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		<-b.done
	})
	return err
}
