package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("got %q, %v", got, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "k", "v", 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("key must be readable before expiry: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStoreQueueFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.RPush(ctx, "q", "first", "second", "third"); err != nil {
		t.Fatal(err)
	}
	n, err := s.LLen(ctx, "q")
	if err != nil || n != 3 {
		t.Fatalf("expected depth 3, got %d, %v", n, err)
	}

	for _, want := range []string{"first", "second", "third"} {
		got, err := s.BLPop(ctx, time.Second, "q")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestMemoryStoreBLPopTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	start := time.Now()
	_, err := s.BLPop(ctx, 50*time.Millisecond, "empty")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on timeout, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("BLPop returned before the timeout")
	}
}

func TestMemoryStoreBLPopWakesOnPush(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.RPush(ctx, "q", "payload")
	}()

	got, err := s.BLPop(ctx, time.Second, "q")
	if err != nil || got != "payload" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestMemoryStoreScanPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		s.Set(ctx, fmt.Sprintf("agent:%d", i), "x", 0)
	}
	s.Set(ctx, "other:1", "x", 0)

	var matched []string
	err := s.Scan(ctx, "agent:*", func(keys []string) error {
		matched = append(matched, keys...)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 5 {
		t.Fatalf("expected 5 matches, got %d: %v", len(matched), matched)
	}
}

func TestMemoryStoreMGetMSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	items := make(map[string]string)
	keys := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		k := fmt.Sprintf("k%03d", i)
		items[k] = fmt.Sprintf("v%03d", i)
		keys = append(keys, k)
	}
	if err := s.MSet(ctx, items, 0); err != nil {
		t.Fatal(err)
	}

	keys = append(keys, "absent")
	got, err := s.MGet(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 250 {
		t.Fatalf("expected 250 values, got %d", len(got))
	}
	if _, ok := got["absent"]; ok {
		t.Fatal("absent key must be omitted, not returned empty")
	}
}

func TestChunk(t *testing.T) {
	keys := make([]string, 0, 205)
	for i := 0; i < 205; i++ {
		keys = append(keys, fmt.Sprintf("k%d", i))
	}

	chunks := Chunk(keys, PipelineChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 5 {
		t.Fatalf("unexpected chunk sizes: %d %d %d",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := Chunk(nil, 100); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestQueueDepths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.RPush(ctx, "agent-queue:a", "1", "2")
	s.RPush(ctx, "agent-queue:b", "1")
	s.Set(ctx, "agent:a", "not a queue", 0)

	depths, err := QueueDepths(ctx, s, "agent-queue:*")
	if err != nil {
		t.Fatal(err)
	}
	if depths["agent-queue:a"] != 2 || depths["agent-queue:b"] != 1 {
		t.Fatalf("unexpected depths: %v", depths)
	}
	if len(depths) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(depths))
	}
}
