package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	fieldData    = "data"
	fieldStale   = "stale"
	fieldUpdated = "updated_at"
)

// RedisStore 基于 Redis hash 的缓存，多个实例可共享
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	data, ok := vals[fieldData]
	if !ok {
		return nil, nil
	}

	e := &Entry{
		Data:  []byte(data),
		Stale: vals[fieldStale] == "1",
	}
	if ts, err := strconv.ParseInt(vals[fieldUpdated], 10, 64); err == nil && ts != 0 {
		e.UpdatedAt = time.UnixMilli(ts)
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	stale := "0"
	if e.Stale {
		stale = "1"
	}
	var updated int64
	if !e.UpdatedAt.IsZero() {
		updated = e.UpdatedAt.UnixMilli()
	}
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldData, e.Data,
			fieldStale, stale,
			fieldUpdated, updated,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		// skip keys that expired since the scan
		exists, err := s.client.Exists(ctx, k).Result()
		if err != nil {
			return n, fmt.Errorf("failed to invalidate %s: %w", k, err)
		}
		if exists == 0 {
			continue
		}
		if err := s.client.HSet(ctx, k, fieldStale, "1").Err(); err != nil {
			return n, fmt.Errorf("failed to invalidate %s: %w", k, err)
		}
		n++
	}
	return n, nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(s.prefix):])
	}
	sort.Strings(out)
	return out, nil
}

func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	seen := make(map[string]struct{})
	match := s.key(prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		for _, k := range batch {
			// SCAN may return a key more than once
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
