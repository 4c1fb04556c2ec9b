package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(messageID string) string {
	return fmt.Sprintf("msg:%s", messageID)
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID, remoteMessageID string, sentAt time.Time) error {
	val := Receipt{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key(messageID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, messageID string) (Receipt, error) {
	raw, err := c.rdb.Get(ctx, key(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, ErrMiss
	}
	if err != nil {
		return Receipt{}, err
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt %s: %w", messageID, err)
	}
	return r, nil
}
