package transport

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// It honors the same contract as RedisStore, including TTL expiry and
// blocking list pops.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	sets   map[string]map[string]struct{}
	lists  map[string][]string
	closed bool
}

type memoryValue struct {
	data      string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][]string),
	}
}

func (s *MemoryStore) expired(v memoryValue, now time.Time) bool {
	return !v.expiresAt.IsZero() && now.After(v.expiresAt)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok || s.expired(v, time.Now()) {
		delete(s.values, key)
		return "", ErrNotFound
	}
	return v.data, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := memoryValue{data: value}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.lists, key)
	}
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok || s.expired(v, time.Now()) {
		return 0, ErrNotFound
	}
	if v.expiresAt.IsZero() {
		return -1, nil
	}
	return time.Until(v.expiresAt), nil
}

func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], values...)
	return nil
}

// BLPop polls the list until an element is available, the timeout elapses,
// or ctx is done. Polling keeps the implementation simple; tests use short
// timeouts.
func (s *MemoryStore) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if list := s.lists[key]; len(list) > 0 {
			head := list[0]
			if len(list) == 1 {
				delete(s.lists, key)
			} else {
				s.lists[key] = list[1:]
			}
			s.mu.Unlock()
			return head, nil
		}
		s.mu.Unlock()

		if timeout > 0 && time.Now().After(deadline) {
			return "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	s.mu.Lock()
	now := time.Now()
	var matched []string
	for key, v := range s.values {
		if s.expired(v, now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for key := range s.sets {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for key := range s.lists {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	s.mu.Unlock()

	sort.Strings(matched)
	for _, batch := range Chunk(matched, ScanBatchSize) {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, chunk := range Chunk(keys, PipelineChunkSize) {
		for _, key := range chunk {
			val, err := s.Get(ctx, key)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			result[key] = val
		}
	}
	return result, nil
}

func (s *MemoryStore) MSet(ctx context.Context, items map[string]string, ttl time.Duration) error {
	for key, value := range items {
		if err := s.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
