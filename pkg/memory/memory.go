package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Memory layers the fast and durable tiers behind one API. The durable
// tier is the system of record: its failures surface to callers, while
// fast-tier failures are logged and absorbed so a cache outage never
// loses a conversation.
type Memory struct {
	fast    *FastTier
	durable *DurableTier
	logger  *slog.Logger
}

// New builds the layered store.
func New(fast *FastTier, durable *DurableTier, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{fast: fast, durable: durable, logger: logger}
}

// Durable exposes the SQL tier for admin surfaces.
func (m *Memory) Durable() *DurableTier {
	return m.durable
}

// Fast exposes the cache tier.
func (m *Memory) Fast() *FastTier {
	return m.fast
}

// AddTurn persists one exchange: the user's message and the replying
// agent's message, in that order.
func (m *Memory) AddTurn(ctx context.Context, userMsg, agentMsg *MessageRecord) error {
	if err := m.durable.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}
	if err := m.durable.AppendMessage(ctx, agentMsg); err != nil {
		return fmt.Errorf("failed to persist agent message: %w", err)
	}

	err := m.fast.Append(ctx, userMsg.UserID, userMsg.SessionID,
		CachedTurn{Type: TurnHuman, Content: userMsg.Content},
		CachedTurn{Type: TurnAI, Content: agentMsg.Content},
	)
	if err != nil {
		m.logger.Warn("failed to update cached history",
			"session", userMsg.SessionID, "error", err)
	}
	return nil
}

// Recent returns the last limit turns of a session, preferring the
// cache and falling back to the durable tier.
func (m *Memory) Recent(ctx context.Context, userID, sessionID string, limit int) ([]CachedTurn, error) {
	turns, err := m.fast.Recent(ctx, userID, sessionID, limit)
	if err != nil {
		m.logger.Warn("cached history unavailable, reading durable tier",
			"session", sessionID, "error", err)
	} else if len(turns) > 0 {
		return turns, nil
	}

	records, err := m.durable.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	out := make([]CachedTurn, 0, len(records))
	for _, rec := range records {
		role := TurnAI
		if rec.SenderType == SenderUser {
			role = TurnHuman
		}
		out = append(out, CachedTurn{Type: role, Content: rec.Content})
	}
	return out, nil
}

// summaryMetadataWindow bounds how far back ContextSummary looks for
// order and intent metadata.
const summaryMetadataWindow = 20

// ContextSummary renders recent history as a compact block for the
// routing prompt: the last few turns as "role: content" lines, a
// one-line cart summary when order metadata is on record, the current
// conversation stage, and the most recent intents.
func (m *Memory) ContextSummary(ctx context.Context, userID, sessionID string, turns int) string {
	if turns <= 0 {
		turns = 6
	}
	recent, err := m.Recent(ctx, userID, sessionID, turns)
	if err != nil || len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	for _, turn := range recent {
		b.WriteString(turn.Type)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}

	records, err := m.durable.RecentMessages(ctx, sessionID, summaryMetadataWindow)
	if err != nil {
		m.logger.Warn("metadata unavailable for context summary",
			"session", sessionID, "error", err)
		return strings.TrimRight(b.String(), "\n")
	}
	if cart := cartLine(records); cart != "" {
		b.WriteString(cart)
		b.WriteString("\n")
	}
	b.WriteString("Stage: ")
	b.WriteString(conversationStage(records))
	b.WriteString("\n")
	if intents := recentIntents(records, 3); len(intents) > 0 {
		b.WriteString("Recent intents: ")
		b.WriteString(strings.Join(intents, "; "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// cartLine condenses the most recent order activity into one line.
func cartLine(records []*MessageRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		orders, ok := rec.Metadata[MetaOrders]
		if !ok {
			continue
		}
		kind := "order update"
		if flags, ok := orders.(map[string]any); ok {
			if isNew, _ := flags["is_new_order"].(bool); isNew {
				kind = "new order"
			} else if isEdit, _ := flags["is_edit_order"].(bool); isEdit {
				kind = "order edit"
			}
		}
		if ids := metadataStrings(rec.Metadata[MetaExtractedProductIDs]); len(ids) > 0 {
			return fmt.Sprintf("Cart: %s with products %s", kind, strings.Join(ids, ", "))
		}
		return "Cart: " + kind + " in progress"
	}
	return ""
}

// conversationStage classifies where the conversation stands from the
// latest agent row's metadata.
func conversationStage(records []*MessageRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.SenderType == SenderUser {
			continue
		}
		if _, ok := rec.Metadata[MetaOrders]; ok {
			return "ordering"
		}
		if _, ok := rec.Metadata[MetaProducts]; ok {
			return "product_search"
		}
		if rec.SenderType == SenderAdvisor {
			return "advising"
		}
		return "chatting"
	}
	return "new"
}

// recentIntents collects up to max analysis strings, newest first.
func recentIntents(records []*MessageRecord, max int) []string {
	var out []string
	for i := len(records) - 1; i >= 0 && len(out) < max; i-- {
		if intent, ok := records[i].Metadata[MetaAnalysis].(string); ok && intent != "" {
			out = append(out, intent)
		}
	}
	return out
}

// metadataStrings coerces a metadata value decoded from JSON into a
// string slice.
func metadataStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ClearSession drops a session from both tiers and returns the number
// of durable messages removed.
func (m *Memory) ClearSession(ctx context.Context, userID, sessionID string) (int64, error) {
	if err := m.fast.Clear(ctx, userID, sessionID); err != nil {
		m.logger.Warn("failed to clear cached history",
			"session", sessionID, "error", err)
	}
	deleted, err := m.durable.DeleteSessionHistory(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session history: %w", err)
	}
	return deleted, nil
}
