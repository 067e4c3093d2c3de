package source

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps source cursors in redis. Keys are namespaced as
// regulens:source_state:<source_id>:<key> with no expiry.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore wraps an existing client; it pings to verify
// connectivity.
func NewRedisStateStore(ctx context.Context, client *redis.Client) (*RedisStateStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStateStore{client: client}, nil
}

func stateKey(sourceID, key string) string {
	return "regulens:source_state:" + sourceID + ":" + key
}

func (s *RedisStateStore) Save(ctx context.Context, sourceID, key, value string) error {
	if err := s.client.Set(ctx, stateKey(sourceID, key), value, 0).Err(); err != nil {
		return fmt.Errorf("save state %s/%s: %w", sourceID, key, err)
	}
	return nil
}

func (s *RedisStateStore) Load(ctx context.Context, sourceID, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, stateKey(sourceID, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load state %s/%s: %w", sourceID, key, err)
	}
	return value, true, nil
}

var _ StateStore = (*RedisStateStore)(nil)
