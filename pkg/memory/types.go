// Package memory persists conversation history in two tiers: a Redis
// fast tier holding recent turns per session, and a SQL durable tier
// that is the system of record.
package memory

import "time"

// SenderType identifies who produced a message in a conversation.
type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderHost    SenderType = "host"
	SenderAdvisor SenderType = "advisor"
	SenderSearch  SenderType = "search"
	SenderOrder   SenderType = "order"
)

// ValidSenderType reports whether s is a known sender.
func ValidSenderType(s SenderType) bool {
	switch s {
	case SenderUser, SenderHost, SenderAdvisor, SenderSearch, SenderOrder:
		return true
	}
	return false
}

// Metadata keys attached to persisted messages.
const (
	MetaClarifiedContent    = "clarified_content"
	MetaFileNames           = "file_names"
	MetaAgentName           = "agent_name"
	MetaResponseData        = "response_data"
	MetaAnalysis            = "analysis"
	MetaOrders              = "orders"
	MetaUserInfo            = "user_info"
	MetaProducts            = "products"
	MetaExtractedProductIDs = "extracted_product_ids"
)

// Session is one conversation, possibly anonymous.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRecord is one persisted message in the durable tier.
type MessageRecord struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id,omitempty"`
	SenderType SenderType     `json:"sender_type"`
	Content    string         `json:"message_content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SessionSummary aggregates one session for listing endpoints.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	FirstMessage time.Time `json:"first_message"`
	LastMessage  time.Time `json:"last_message"`
}

// Cached turn roles in the fast tier.
const (
	TurnHuman = "human"
	TurnAI    = "ai"
)

// CachedTurn is one fast-tier history entry.
type CachedTurn struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
