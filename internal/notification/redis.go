package notification

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"mlm/pkg/errors"
)

// RedisChannel publishes notifications as JSON on a pub/sub channel for
// downstream delivery workers.
type RedisChannel struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisChannel(client redis.UniversalClient, channel string) *RedisChannel {
	return &RedisChannel{client: client, channel: channel}
}

func (c *RedisChannel) Deliver(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	return errors.Wrap(c.client.Publish(ctx, c.channel, payload).Err(), "failed to publish notification")
}
