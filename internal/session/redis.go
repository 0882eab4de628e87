package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists chat history in redis lists, one list per session.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func turnsKey(id string) string { return "chat:turns:" + id }
func metaKey(id string) string  { return "chat:meta:" + id }

func (s *RedisStore) Ensure(ctx context.Context, id, userID string) (string, error) {
	if id != "" {
		ok, err := s.rdb.Expire(ctx, metaKey(id), s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redis expire: %w", err)
		}
		if ok {
			_ = s.rdb.Expire(ctx, turnsKey(id), s.ttl).Err()
			return id, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.rdb.Set(ctx, metaKey(id), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	// RPUSH keeps chronological order; redis serializes concurrent pushes.
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, turnsKey(id), payload)
	pipe.Expire(ctx, turnsKey(id), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Recent(ctx context.Context, id string, n int) ([]Turn, error) {
	if n <= 0 {
		n = 5
	}
	raw, err := s.rdb.LRange(ctx, turnsKey(id), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}
