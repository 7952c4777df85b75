package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "campusmarket:"

// RedisTracker stores markers as expiring redis keys so every instance of
// the server sees the same presence. Expiry is left to redis.
type RedisTracker struct {
	client redis.Cmdable
	prefix string
	ttls   TTLs
}

func NewRedisTracker(client redis.Cmdable, prefix string, ttls TTLs) *RedisTracker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTracker{
		client: client,
		prefix: prefix,
		ttls:   ttls.withDefaults(),
	}
}

func (t *RedisTracker) TouchPresence(ctx context.Context, userID int64) error {
	return t.client.Set(ctx, t.prefix+presenceKey(userID), "1", t.ttls.Presence).Err()
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return t.exists(ctx, t.prefix+presenceKey(userID))
}

func (t *RedisTracker) SetTyping(ctx context.Context, conversationID, userID int64) error {
	return t.client.Set(ctx, t.prefix+typingKey(conversationID, userID), "1", t.ttls.Typing).Err()
}

func (t *RedisTracker) IsTyping(ctx context.Context, conversationID, userID int64) (bool, error) {
	return t.exists(ctx, t.prefix+typingKey(conversationID, userID))
}

func (t *RedisTracker) exists(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
