package a2a

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRequest(t *testing.T) {
	msg := NewRequest("host-agent", "search-agent", "chat", map[string]any{"message": "hi"})

	if msg.ID == "" {
		t.Fatal("expected a message ID")
	}
	if msg.CorrelationID == "" {
		t.Fatal("expected a correlation ID")
	}
	if msg.Type != MessageTypeRequest {
		t.Fatalf("expected request type, got %s", msg.Type)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate message ID: %s", id)
		}
		seen[id] = true
	}
}

func TestMessageTimeout(t *testing.T) {
	msg := NewRequest("a", "b", "chat", nil)
	if got := msg.Timeout(); got != DefaultTimeoutSeconds*time.Second {
		t.Fatalf("expected default timeout, got %s", got)
	}

	msg.TimeoutSeconds = 5
	if got := msg.Timeout(); got != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", got)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr bool
	}{
		{"valid", func(m *Message) {}, false},
		{"missing from", func(m *Message) { m.FromAgent = "" }, true},
		{"missing capability on request", func(m *Message) { m.Capability = "" }, true},
		{"request without correlation", func(m *Message) { m.CorrelationID = "" }, true},
		{"bad type", func(m *Message) { m.Type = "bogus" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewRequest("a", "b", "chat", nil)
			tt.mutate(msg)
			err := msg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestResponseEnvelopes(t *testing.T) {
	req := NewRequest("a", "b", "chat", nil)

	ok := NewResponse(req, map[string]any{"answer": "yes"})
	if !ok.Success {
		t.Fatal("expected success")
	}
	if ok.CorrelationID != req.CorrelationID {
		t.Fatal("correlation ID must carry over")
	}

	bad := NewErrorResponse(req, "boom")
	if bad.Success {
		t.Fatal("expected failure")
	}
	if bad.Error != "boom" {
		t.Fatalf("unexpected error text: %s", bad.Error)
	}
}

func TestAgentInfoLiveness(t *testing.T) {
	now := time.Now()
	info := &AgentInfo{
		ID:            "search-agent",
		Name:          "Search Agent",
		Type:          AgentTypeSearch,
		Status:        AgentStatusActive,
		LastHeartbeat: now.Add(-30 * time.Second),
	}

	if !info.Live(now, 60*time.Second) {
		t.Fatal("agent heartbeating within the window must be live")
	}
	if info.Live(now, 20*time.Second) {
		t.Fatal("agent past the window must not be live")
	}
}

func TestQueueEndpointHelpers(t *testing.T) {
	ep := QueueEndpoint("order-agent")
	if !IsQueueEndpoint(ep) {
		t.Fatalf("expected %s to be a queue endpoint", ep)
	}
	id, ok := QueueAgentID(ep)
	if !ok || id != "order-agent" {
		t.Fatalf("round trip failed: %q %v", id, ok)
	}

	if IsQueueEndpoint("http://agent:8080") {
		t.Fatal("http endpoint misclassified")
	}
	if _, ok := QueueAgentID("queue://"); ok {
		t.Fatal("empty agent id must be rejected")
	}
	if QueueKey("x") != "agent-queue:x" {
		t.Fatalf("unexpected queue key: %s", QueueKey("x"))
	}
}

func TestMessageJSONFieldNames(t *testing.T) {
	msg := NewRequest("a", "b", "chat", map[string]any{"k": "v"})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"message_id", "from_agent", "to_agent", "message_type", "correlation_id"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("missing wire field %q", field)
		}
	}
}
