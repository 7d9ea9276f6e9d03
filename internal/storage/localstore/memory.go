package localstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with optional per-value and total byte limits.
type MemoryStore struct {
	mu            sync.RWMutex
	data          map[string][]byte
	maxValueBytes int
	maxTotalBytes int
}

type MemoryOption func(*MemoryStore)

// WithMaxValueBytes rejects single values larger than n.
func WithMaxValueBytes(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxValueBytes = n }
}

// WithMaxTotalBytes rejects writes that would grow the store beyond n.
func WithMaxTotalBytes(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxTotalBytes = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{data: make(map[string][]byte)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), s.maxValueBytes)
	}
	if s.maxTotalBytes > 0 {
		total := len(value) - len(s.data[key])
		for _, v := range s.data {
			total += len(v)
		}
		if total > s.maxTotalBytes {
			return fmt.Errorf("%w: store would hold %d bytes, limit %d", ErrQuotaExceeded, total, s.maxTotalBytes)
		}
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
