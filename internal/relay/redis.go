// Package relay spreads room frames across nodes over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Campus/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "campus:rooms"

type envelope struct {
	Room  core.RoomID     `json:"room"`
	Frame json.RawMessage `json:"frame"`
}

// DeliverFunc hands a relayed frame to the local room.
type DeliverFunc func(room core.RoomID, f core.Frame)

// RedisRelay publishes frames to one channel and delivers every frame seen on
// it, including the ones this node published.
type RedisRelay struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, room core.RoomID, f core.Frame) error {
	payload, err := json.Marshal(envelope{Room: room, Frame: json.RawMessage(f)})
	if err != nil {
		return fmt.Errorf("relay: encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed. Frames are
// delivered from a background goroutine until Close.
func (r *RedisRelay) Start(ctx context.Context, deliver DeliverFunc) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Room == "" {
				log.Warn().Str("module", "relay").Msg("dropping malformed relay payload")
				continue
			}
			deliver(env.Room, core.Frame(env.Frame))
		}
	}()
	log.Info().Str("module", "relay").Str("channel", r.channel).Msg("relay subscribed")
	return nil
}

// Close unsubscribes and waits for the delivery goroutine to finish.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
