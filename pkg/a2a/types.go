// Package a2a defines the agent-to-agent wire protocol: agent descriptors,
// capabilities, message envelopes and response envelopes exchanged between
// the orchestrator and the downstream agents.
//
// Messages travel over two transports: per-agent Redis queues (endpoint
// scheme "queue://") for in-cluster delivery, and HTTP POST to
// <endpoint>/a2a/receive for remote agents. Every agent publishes its
// descriptor at /.well-known/agent.json.
package a2a

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AgentType classifies an agent within the catalog. The set is closed.
type AgentType string

const (
	AgentTypeChatbot      AgentType = "chatbot"
	AgentTypeSearch       AgentType = "search"
	AgentTypeAdvisor      AgentType = "advisor"
	AgentTypeOrder        AgentType = "order"
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypeOther        AgentType = "other"
)

// ValidAgentType reports whether t is a member of the closed type set.
func ValidAgentType(t AgentType) bool {
	switch t {
	case AgentTypeChatbot, AgentTypeSearch, AgentTypeAdvisor,
		AgentTypeOrder, AgentTypeOrchestrator, AgentTypeOther:
		return true
	}
	return false
}

// AgentStatus is the registry-visible liveness status of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusError    AgentStatus = "error"
)

// Capability describes a named operation an agent can perform.
type Capability struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	RequiresAuth bool           `json:"requires_auth"`
}

// AgentInfo is the public descriptor of a registered agent.
// It is created on registration, mutated only by heartbeat or
// re-registration, and destroyed on unregistration.
type AgentInfo struct {
	ID            string         `json:"agent_id"`
	Name          string         `json:"name"`
	Type          AgentType      `json:"agent_type"`
	Version       string         `json:"version,omitempty"`
	Description   string         `json:"description,omitempty"`
	Capabilities  []Capability   `json:"capabilities,omitempty"`
	Endpoint      string         `json:"endpoint"`
	Status        AgentStatus    `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Live reports whether the agent's last heartbeat is within the liveness
// timeout as of now.
func (a *AgentInfo) Live(now time.Time, timeout time.Duration) bool {
	return a.LastHeartbeat.After(now.Add(-timeout))
}

// HasCapability reports whether the descriptor declares the named capability.
func (a *AgentInfo) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Validate checks descriptor invariants before registration.
func (a *AgentInfo) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent descriptor missing agent_id")
	}
	if a.Name == "" {
		return fmt.Errorf("agent %s: descriptor missing name", a.ID)
	}
	if !ValidAgentType(a.Type) {
		return fmt.Errorf("agent %s: unknown agent type %q", a.ID, a.Type)
	}
	if a.Endpoint == "" {
		return fmt.Errorf("agent %s: descriptor missing endpoint", a.ID)
	}
	return nil
}

// MessageType distinguishes the kinds of messages on the wire.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeHeartbeat    MessageType = "heartbeat"
	MessageTypeDiscovery    MessageType = "discovery"
)

// DefaultTimeoutSeconds is applied to requests that carry no explicit timeout.
const DefaultTimeoutSeconds = 30

// Message is the A2A wire envelope. ToAgent empty means broadcast.
// A response carries the correlation id of its originating request;
// notifications carry none.
type Message struct {
	ID             string         `json:"message_id"`
	FromAgent      string         `json:"from_agent"`
	ToAgent        string         `json:"to_agent,omitempty"`
	Type           MessageType    `json:"message_type"`
	Capability     string         `json:"capability,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewMessageID mints a lexicographically sortable message identifier.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewRequest builds a request message with a fresh message id and
// correlation id.
func NewRequest(from, to, capability string, payload map[string]any) *Message {
	return &Message{
		ID:             NewMessageID(),
		FromAgent:      from,
		ToAgent:        to,
		Type:           MessageTypeRequest,
		Capability:     capability,
		Payload:        payload,
		CorrelationID:  uuid.NewString(),
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

// NewNotification builds a one-way message. A notification never carries a
// correlation id; the receiver's handler result is discarded.
func NewNotification(from, to, capability string, payload map[string]any) *Message {
	return &Message{
		ID:         NewMessageID(),
		FromAgent:  from,
		ToAgent:    to,
		Type:       MessageTypeNotification,
		Capability: capability,
		Payload:    payload,
	}
}

// Timeout returns the request deadline as a duration, falling back to the
// protocol default when the message carries none.
func (m *Message) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Validate checks the envelope invariants for the message type.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message missing message_id")
	}
	if m.FromAgent == "" {
		return fmt.Errorf("message %s: missing from_agent", m.ID)
	}
	switch m.Type {
	case MessageTypeRequest:
		if m.Capability == "" {
			return fmt.Errorf("message %s: request requires a capability", m.ID)
		}
		if m.CorrelationID == "" {
			return fmt.Errorf("message %s: request requires a correlation_id", m.ID)
		}
	case MessageTypeResponse:
		if m.CorrelationID == "" {
			return fmt.Errorf("message %s: response requires a correlation_id", m.ID)
		}
	case MessageTypeNotification, MessageTypeHeartbeat, MessageTypeDiscovery:
	default:
		return fmt.Errorf("message %s: unknown message type %q", m.ID, m.Type)
	}
	return nil
}

// Response is the envelope carried back for a request. Exactly one of Data
// and Error is meaningful, discriminated by Success.
type Response struct {
	MessageID        string         `json:"message_id"`
	CorrelationID    string         `json:"correlation_id"`
	Success          bool           `json:"success"`
	Data             map[string]any `json:"data,omitempty"`
	Error            string         `json:"error,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// NewResponse builds a success envelope paired to the originating request.
func NewResponse(req *Message, data map[string]any) *Response {
	return &Response{
		MessageID:     req.ID,
		CorrelationID: req.CorrelationID,
		Success:       true,
		Data:          data,
	}
}

// NewErrorResponse builds a failure envelope paired to the originating
// request.
func NewErrorResponse(req *Message, errMsg string) *Response {
	return &Response{
		MessageID:     req.ID,
		CorrelationID: req.CorrelationID,
		Success:       false,
		Error:         errMsg,
	}
}
