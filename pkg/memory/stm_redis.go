package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dotsetgreg/mirabase/pkg/logger"
)

const DefaultRedisPrefix = "mira:stm:"

// RedisShortTerm keeps each user's window in a Redis list so several
// processes can share it.
type RedisShortTerm struct {
	rdb      redis.UniversalClient
	prefix   string
	capacity int
}

func NewRedisShortTerm(rdb redis.UniversalClient, prefix string, capacity int) *RedisShortTerm {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisShortTerm{rdb: rdb, prefix: prefix, capacity: capacity}
}

func (r *RedisShortTerm) key(userID string) string {
	return r.prefix + userID
}

func (r *RedisShortTerm) Recent(ctx context.Context, userID string, n int) ([]Entry, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := r.rdb.LRange(ctx, r.key(userID), start, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("stm lrange: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logger.WarnCF("memory", "Skipping undecodable STM entry", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisShortTerm) Append(ctx context.Context, userID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode stm entry: %w", err)
	}
	key := r.key(userID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-r.capacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stm append: %w", err)
	}
	return nil
}

func (r *RedisShortTerm) Clear(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("stm clear: %w", err)
	}
	return nil
}
