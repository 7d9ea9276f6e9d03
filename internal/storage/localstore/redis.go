package localstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps documents in Redis. Values over maxValueBytes and Redis OOM
// rejections both surface as ErrQuotaExceeded.
type RedisStore struct {
	client        *redis.Client
	maxValueBytes int
	scanCount     int64
}

func NewRedisStore(client *redis.Client, maxValueBytes int) *RedisStore {
	return &RedisStore{client: client, maxValueBytes: maxValueBytes, scanCount: 100}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), s.maxValueBytes)
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", match, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return dedupe(keys), nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SCAN may return a key more than once.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
