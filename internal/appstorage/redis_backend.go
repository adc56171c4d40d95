package appstorage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBackend persists appstorage items as Redis hashes, one per key,
// plus a per-prefix set for enumeration. Grounded on the teacher's
// RedisStore key-prefix conventions (funcKeyPrefix/funcListKey).
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

func (b *RedisBackend) Close() error { return b.client.Close() }

func itemKey(prefix, key string) string  { return "appstorage:" + prefix + ":item:" + key }
func indexKey(prefix string) string      { return "appstorage:" + prefix + ":index" }

func (b *RedisBackend) Get(ctx context.Context, prefix, key string) (*rawItem, error) {
	vals, err := b.client.HMGet(ctx, itemKey(prefix, key), "data", "rev", "deleted").Result()
	if err != nil {
		return nil, fmt.Errorf("appstorage redis get: %w", err)
	}
	if vals[0] == nil {
		return nil, nil
	}
	data, _ := vals[0].(string)
	rev, deleted, err := decodeRevDeleted(vals[1], vals[2])
	if err != nil {
		return nil, err
	}
	return &rawItem{Key: key, Data: []byte(data), Rev: rev, Deleted: deleted}, nil
}

func (b *RedisBackend) Put(ctx context.Context, prefix string, item rawItem) error {
	pipe := b.client.Pipeline()
	pipe.HSet(ctx, itemKey(prefix, item.Key), map[string]any{
		"data":    item.Data,
		"rev":     item.Rev,
		"deleted": item.Deleted,
	})
	pipe.SAdd(ctx, indexKey(prefix), item.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appstorage redis put: %w", err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]rawItem, error) {
	keys, err := b.client.SMembers(ctx, indexKey(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("appstorage redis list: %w", err)
	}
	items := make([]rawItem, 0, len(keys))
	for _, key := range keys {
		item, err := b.Get(ctx, prefix, key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

func decodeRevDeleted(revVal, deletedVal any) (int64, bool, error) {
	revStr, _ := revVal.(string)
	var rev int64
	if _, err := fmt.Sscanf(revStr, "%d", &rev); err != nil && revStr != "" {
		return 0, false, fmt.Errorf("appstorage redis decode rev: %w", err)
	}
	deletedStr, _ := deletedVal.(string)
	return rev, deletedStr == "1" || deletedStr == "true", nil
}
