package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

const (
	// historyKeyPrefix scopes fast-tier history keys. The value format
	// is langchain-history:<user-id|anonymous>:<session-id>.
	historyKeyPrefix = "langchain-history:"

	// legacyKeyPrefix is the pre-migration key namespace.
	legacyKeyPrefix = "chat-history:"

	// anonymousUser stands in for sessions without a user.
	anonymousUser = "anonymous"

	// DefaultHistoryTTL is how long cached history outlives its last
	// write.
	DefaultHistoryTTL = 7 * 24 * time.Hour
)

// HistoryKey builds the fast-tier key for a session.
func HistoryKey(userID, sessionID string) string {
	if userID == "" {
		userID = anonymousUser
	}
	return historyKeyPrefix + userID + ":" + sessionID
}

// FastTier caches recent conversation turns in the shared store.
type FastTier struct {
	store transport.Store
	ttl   time.Duration
}

// NewFastTier builds a FastTier with the default TTL.
func NewFastTier(store transport.Store) *FastTier {
	return &FastTier{store: store, ttl: DefaultHistoryTTL}
}

// WithTTL overrides the history TTL and returns the tier.
func (f *FastTier) WithTTL(ttl time.Duration) *FastTier {
	f.ttl = ttl
	return f
}

// Append adds turns to the session's cached history and refreshes the
// TTL.
func (f *FastTier) Append(ctx context.Context, userID, sessionID string, turns ...CachedTurn) error {
	key := HistoryKey(userID, sessionID)

	existing, err := f.load(ctx, key)
	if err != nil {
		return err
	}
	existing = append(existing, turns...)

	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode cached history: %w", err)
	}
	if err := f.store.Set(ctx, key, string(payload), f.ttl); err != nil {
		return fmt.Errorf("failed to write cached history: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent turns, oldest first. A missing
// key yields an empty slice.
func (f *FastTier) Recent(ctx context.Context, userID, sessionID string, limit int) ([]CachedTurn, error) {
	turns, err := f.load(ctx, HistoryKey(userID, sessionID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// Clear drops the cached history for a session.
func (f *FastTier) Clear(ctx context.Context, userID, sessionID string) error {
	return f.store.Delete(ctx, HistoryKey(userID, sessionID))
}

// SessionsForUser scans the cached sessions belonging to userID.
func (f *FastTier) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		userID = anonymousUser
	}
	prefix := historyKeyPrefix + userID + ":"

	var sessions []string
	err := f.store.Scan(ctx, prefix+"*", func(keys []string) error {
		for _, key := range keys {
			sessions = append(sessions, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions for %s: %w", userID, err)
	}
	return sessions, nil
}

// MigrateLegacy moves history stored under the old chat-history
// namespace into the current one, preserving the remaining TTL where
// one is set. It returns the number of migrated keys.
func (f *FastTier) MigrateLegacy(ctx context.Context, ownerFor func(sessionID string) string) (int, error) {
	migrated := 0
	err := f.store.Scan(ctx, legacyKeyPrefix+"*", func(keys []string) error {
		for _, key := range keys {
			sessionID := strings.TrimPrefix(key, legacyKeyPrefix)
			value, err := f.store.Get(ctx, key)
			if err != nil {
				if errors.Is(err, transport.ErrNotFound) {
					continue
				}
				return err
			}

			ttl := f.ttl
			if remaining, err := f.store.TTL(ctx, key); err == nil && remaining > 0 {
				ttl = remaining
			}

			userID := ""
			if ownerFor != nil {
				userID = ownerFor(sessionID)
			}
			if err := f.store.Set(ctx, HistoryKey(userID, sessionID), value, ttl); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", key, err)
			}
			if err := f.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to drop legacy key %s: %w", key, err)
			}
			migrated++
		}
		return nil
	})
	if err != nil {
		return migrated, err
	}
	return migrated, nil
}

func (f *FastTier) load(ctx context.Context, key string) ([]CachedTurn, error) {
	raw, err := f.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached history: %w", err)
	}

	var turns []CachedTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode cached history: %w", err)
	}
	return turns, nil
}
