// Package transport provides the shared key-value and queue layer backing
// the agent registry, the message broker and the fast conversation cache.
//
// The canonical implementation is Redis. Components depend on the Store
// interface so tests and single-process development can run against the
// in-memory implementation.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent, or when a blocking pop
// times out with no element.
var ErrNotFound = errors.New("transport: key not found")

const (
	// ScanBatchSize bounds a single cursor iteration. Blanket KEYS-style
	// scans are forbidden; they block the store.
	ScanBatchSize = 1000

	// PipelineChunkSize bounds the number of items per pipeline flush in
	// batch operations.
	PipelineChunkSize = 100
)

// Store is the key-value and queue contract shared by all processes.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	// A negative duration means the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key. An absent set is an
	// empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// RPush appends values to the tail of the list at key.
	RPush(ctx context.Context, key string, values ...string) error

	// BLPop pops the head of the list at key, blocking up to timeout.
	// Returns ErrNotFound when the timeout elapses with no element.
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)

	// LLen returns the length of the list at key (0 if absent).
	LLen(ctx context.Context, key string) (int64, error)

	// Scan iterates keys matching a glob pattern in cursor-driven batches
	// of at most ScanBatchSize, calling fn for each batch. Iteration stops
	// on the first error from fn.
	Scan(ctx context.Context, pattern string, fn func(keys []string) error) error

	// MGet fetches many keys, pipelined in chunks of PipelineChunkSize.
	// Missing keys are absent from the result map.
	MGet(ctx context.Context, keys []string) (map[string]string, error)

	// MSet writes many key-value pairs, pipelined in chunks of
	// PipelineChunkSize. A zero ttl means no expiry.
	MSet(ctx context.Context, items map[string]string, ttl time.Duration) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Chunk splits keys into slices of at most size elements. Batch operations
// use it to bound each pipeline flush.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 || len(keys) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// QueueDepths reports the length of every queue key matching the pattern.
// Operators use it to watch backpressure building up behind slow agents.
func QueueDepths(ctx context.Context, s Store, pattern string) (map[string]int64, error) {
	depths := make(map[string]int64)
	err := s.Scan(ctx, pattern, func(keys []string) error {
		for _, key := range keys {
			n, err := s.LLen(ctx, key)
			if err != nil {
				return err
			}
			depths[key] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return depths, nil
}
