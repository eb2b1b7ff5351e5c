package memory

import (
	"context"
	"testing"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

func TestHistoryKey(t *testing.T) {
	if got := HistoryKey("u1", "s1"); got != "langchain-history:u1:s1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := HistoryKey("", "s1"); got != "langchain-history:anonymous:s1" {
		t.Fatalf("anonymous sessions must use the anonymous owner, got %q", got)
	}
}

func TestFastTierAppendRecent(t *testing.T) {
	ctx := context.Background()
	fast := NewFastTier(transport.NewMemoryStore())

	turns, err := fast.Recent(ctx, "u1", "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Fatalf("missing session must yield no turns, got %d", len(turns))
	}

	err = fast.Append(ctx, "u1", "s1",
		CachedTurn{Type: TurnHuman, Content: "hi"},
		CachedTurn{Type: TurnAI, Content: "hello"},
	)
	if err != nil {
		t.Fatal(err)
	}
	err = fast.Append(ctx, "u1", "s1",
		CachedTurn{Type: TurnHuman, Content: "any sunglasses?"},
		CachedTurn{Type: TurnAI, Content: "yes, several"},
	)
	if err != nil {
		t.Fatal(err)
	}

	turns, err = fast.Recent(ctx, "u1", "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	if turns[0].Content != "hi" || turns[3].Content != "yes, several" {
		t.Fatalf("turns out of order: %+v", turns)
	}

	// Limit keeps the newest turns.
	turns, err = fast.Recent(ctx, "u1", "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Content != "any sunglasses?" {
		t.Fatalf("limit must keep the tail: %+v", turns)
	}
}

func TestFastTierClear(t *testing.T) {
	ctx := context.Background()
	fast := NewFastTier(transport.NewMemoryStore())

	if err := fast.Append(ctx, "u1", "s1", CachedTurn{Type: TurnHuman, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := fast.Clear(ctx, "u1", "s1"); err != nil {
		t.Fatal(err)
	}
	turns, err := fast.Recent(ctx, "u1", "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Fatalf("cleared session must be empty, got %d turns", len(turns))
	}
}

func TestFastTierSessionsForUser(t *testing.T) {
	ctx := context.Background()
	fast := NewFastTier(transport.NewMemoryStore())

	for _, session := range []string{"s1", "s2"} {
		if err := fast.Append(ctx, "u1", session, CachedTurn{Type: TurnHuman, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := fast.Append(ctx, "u2", "other", CachedTurn{Type: TurnHuman, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	sessions, err := fast.SessionsForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for u1, got %v", sessions)
	}
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	store := transport.NewMemoryStore()
	fast := NewFastTier(store)

	payload := `[{"type":"human","content":"old message"}]`
	if err := store.Set(ctx, "chat-history:s1", payload, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "chat-history:s2", payload, 0); err != nil {
		t.Fatal(err)
	}

	owners := map[string]string{"s1": "u1"}
	migrated, err := fast.MigrateLegacy(ctx, func(sessionID string) string {
		return owners[sessionID]
	})
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 2 {
		t.Fatalf("expected 2 migrated keys, got %d", migrated)
	}

	// Owned session lands under its user, anonymous under the anonymous
	// namespace, and the legacy keys are gone.
	turns, err := fast.Recent(ctx, "u1", "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Content != "old message" {
		t.Fatalf("migrated history mismatch: %+v", turns)
	}
	turns, err = fast.Recent(ctx, "", "s2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("anonymous migration mismatch: %+v", turns)
	}
	if _, err := store.Get(ctx, "chat-history:s1"); err == nil {
		t.Fatal("legacy key must be deleted after migration")
	}
}
