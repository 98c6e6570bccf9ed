package livequery

import (
	"context"

	"github.com/RahmatullahZadran/appss/internal/cache"
)

// ChangesChannel is the Redis pub/sub channel carrying conversation ids.
const ChangesChannel = "feed:changes"

// RedisBus fans change notifications out to every server instance through
// Redis pub/sub.
type RedisBus struct {
	redis   *cache.RedisCache
	channel string
}

func NewRedisBus(redis *cache.RedisCache) *RedisBus {
	return &RedisBus{redis: redis, channel: ChangesChannel}
}

func (b *RedisBus) Publish(ctx context.Context, conversationID string) error {
	return b.redis.Publish(b.channel, []byte(conversationID))
}

// Run calls onChange for every published conversation id until ctx is done.
func (b *RedisBus) Run(ctx context.Context, onChange func(conversationID string)) error {
	ps := b.redis.Subscribe(ctx, b.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed so no publish is missed
	// after Run has been started.
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			onChange(msg.Payload)
		}
	}
}
