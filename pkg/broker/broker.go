// Package broker routes messages between agents: queue-backed delivery
// for in-process agents, HTTP delivery for remote ones, and a pending
// table correlating requests with their responses.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/httpclient"
	"github.com/mthangit/Multi-Agents-sub000/pkg/observability"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// Handler processes one inbound message for a capability and returns
// the result payload.
type Handler func(ctx context.Context, msg *a2a.Message) (map[string]any, error)

// BroadcastOptions narrows the recipients of a broadcast.
type BroadcastOptions struct {
	// TargetTypes limits delivery to agents of these types. Empty means
	// every active agent.
	TargetTypes []a2a.AgentType
	// Exclude lists agent IDs to skip in addition to the sender.
	Exclude []string
}

// Broker is the message fabric for one hosting process. It delivers to
// queue endpoints through the shared store and to HTTP endpoints
// through a retrying client.
type Broker struct {
	agentID  string
	store    transport.Store
	registry *registry.Registry
	http     *httpclient.Client
	handlers *registry.Table[Handler]
	pending  *pendingTable
	logger   *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithHTTPClient replaces the retrying HTTP client used for remote
// delivery.
func WithHTTPClient(client *httpclient.Client) Option {
	return func(b *Broker) {
		b.http = client
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New builds a Broker for the agent identified by agentID.
func New(agentID string, store transport.Store, reg *registry.Registry, opts ...Option) *Broker {
	b := &Broker{
		agentID:  agentID,
		store:    store,
		registry: reg,
		http:     httpclient.New(),
		handlers: registry.NewTable[Handler](),
		pending:  newPendingTable(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AgentID returns the owning agent's ID.
func (b *Broker) AgentID() string {
	return b.agentID
}

// RegisterHandler installs fn for capability, replacing any previous
// handler.
func (b *Broker) RegisterHandler(capability string, fn Handler) error {
	return b.handlers.Put(capability, fn)
}

// UnregisterHandler removes the handler for capability.
func (b *Broker) UnregisterHandler(capability string) {
	b.handlers.Remove(capability)
}

// Capabilities lists the capabilities with an installed handler.
func (b *Broker) Capabilities() []string {
	return b.handlers.Names()
}

// SendMessage delivers msg to its recipient; a message with no
// recipient is broadcast instead. For requests it blocks
// until the correlated response arrives or the message timeout elapses;
// the timeout produces an error envelope, never a hung caller. For
// notifications it returns as soon as the message is handed off.
func (b *Broker) SendMessage(ctx context.Context, msg *a2a.Message) (*a2a.Response, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	// No recipient means broadcast. Target filters ride in the message
	// metadata.
	if msg.ToAgent == "" {
		return b.Broadcast(ctx, msg, optionsFromMetadata(msg.Metadata))
	}

	target, err := b.registry.Lookup(ctx, msg.ToAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipient %q: %w", msg.ToAgent, err)
	}

	if msg.Type != a2a.MessageTypeRequest {
		if err := b.deliver(ctx, target.Endpoint, msg); err != nil {
			return nil, err
		}
		observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
		return nil, nil
	}

	// Register the waiter before delivery so a fast responder cannot
	// race the table entry.
	ch := b.pending.add(msg.CorrelationID)
	defer b.pending.remove(msg.CorrelationID)

	if err := b.deliver(ctx, target.Endpoint, msg); err != nil {
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	timer := time.NewTimer(msg.Timeout())
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		observability.RequestTimeouts.Inc()
		b.logger.Warn("request timed out", "to", msg.ToAgent, "capability", msg.Capability,
			"correlation_id", msg.CorrelationID)
		return &a2a.Response{
			MessageID:     msg.ID,
			CorrelationID: msg.CorrelationID,
			Success:       false,
			Error:         "request timeout",
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast sends a copy of msg to every active agent matching opts,
// excluding the sender. Each copy gets a fresh message ID but keeps the
// original correlation ID. The returned response reports how many
// agents received a copy; per-recipient delivery failures are collected
// into the response data rather than raised.
func (b *Broker) Broadcast(ctx context.Context, msg *a2a.Message, opts BroadcastOptions) (*a2a.Response, error) {
	if msg.ID == "" {
		msg.ID = a2a.NewMessageID()
	}

	excluded := map[string]bool{b.agentID: true, msg.FromAgent: true}
	for _, id := range opts.Exclude {
		excluded[id] = true
	}

	var targets []*a2a.AgentInfo
	if len(opts.TargetTypes) == 0 {
		targets, _ = b.registry.Discover(ctx, registry.Filter{Status: a2a.AgentStatusActive})
	} else {
		for _, t := range opts.TargetTypes {
			found, err := b.registry.Discover(ctx, registry.Filter{Type: t, Status: a2a.AgentStatusActive})
			if err != nil {
				return nil, fmt.Errorf("failed to discover %s agents: %w", t, err)
			}
			targets = append(targets, found...)
		}
	}

	count := 0
	var failures []map[string]any
	for _, target := range targets {
		if excluded[target.ID] {
			continue
		}
		dup := *msg
		dup.ID = a2a.NewMessageID()
		dup.ToAgent = target.ID
		if err := b.deliver(ctx, target.Endpoint, &dup); err != nil {
			b.logger.Warn("broadcast delivery failed", "to", target.ID, "error", err)
			failures = append(failures, map[string]any{
				"agent_id": target.ID,
				"error":    err.Error(),
			})
			continue
		}
		count++
	}
	observability.MessagesSent.WithLabelValues("broadcast").Add(float64(count))

	data := map[string]any{"broadcast_count": count}
	if len(failures) > 0 {
		data["failed_count"] = len(failures)
		data["failures"] = failures
	}
	return &a2a.Response{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Success:       true,
		Data:          data,
	}, nil
}

// optionsFromMetadata reads broadcast filters off a recipient-less
// message.
func optionsFromMetadata(meta map[string]any) BroadcastOptions {
	var opts BroadcastOptions
	for _, t := range stringList(meta["target_agent_types"]) {
		opts.TargetTypes = append(opts.TargetTypes, a2a.AgentType(t))
	}
	opts.Exclude = stringList(meta["exclude_agents"])
	return opts
}

func stringList(v any) []string {
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

// deliver hands msg to the recipient's endpoint: RPush for queue
// endpoints, POST for HTTP ones.
func (b *Broker) deliver(ctx context.Context, endpoint string, msg *a2a.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if id, ok := a2a.QueueAgentID(endpoint); ok {
		key := a2a.QueueKey(id)
		if err := b.store.RPush(ctx, key, string(payload)); err != nil {
			return fmt.Errorf("failed to enqueue message for %s: %w", msg.ToAgent, err)
		}
		return nil
	}

	url := endpoint + a2a.ReceivePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery to %s returned HTTP %d", endpoint, resp.StatusCode)
	}
	return nil
}

// ProcessReceived classifies one raw payload pulled from this agent's
// queue or posted to its receive endpoint. Responses complete their
// pending request; requests and notifications are dispatched to the
// installed handler.
func (b *Broker) ProcessReceived(ctx context.Context, raw []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode inbound payload: %w", err)
	}

	// Responses carry correlation_id plus a success flag; messages
	// carry message_type instead.
	_, hasSuccess := envelope["success"]
	if _, hasCorrelation := envelope["correlation_id"]; hasCorrelation && hasSuccess {
		var resp a2a.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if !b.pending.complete(&resp) {
			b.logger.Debug("dropping response with no pending request",
				"correlation_id", resp.CorrelationID)
		}
		return nil
	}

	var msg a2a.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return b.HandleMessage(ctx, &msg)
}

// HandleMessage dispatches msg to the handler for its capability. For
// requests the result (or error) is wrapped in a response envelope and
// pushed to the sender's queue; notification results are discarded.
func (b *Broker) HandleMessage(ctx context.Context, msg *a2a.Message) error {
	observability.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	started := time.Now()
	var resp *a2a.Response

	fn, ok := b.handlers.Get(msg.Capability)
	if !ok {
		resp = a2a.NewErrorResponse(msg, fmt.Sprintf("no handler for capability: %s", msg.Capability))
	} else {
		data, err := fn(ctx, msg)
		if err != nil {
			b.logger.Error("handler failed", "capability", msg.Capability,
				"from", msg.FromAgent, "error", err)
			resp = a2a.NewErrorResponse(msg, err.Error())
		} else {
			resp = a2a.NewResponse(msg, data)
		}
	}
	resp.ProcessingTimeMs = time.Since(started).Milliseconds()

	if msg.Type != a2a.MessageTypeRequest {
		return nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	key := a2a.QueueKey(msg.FromAgent)
	if err := b.store.RPush(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("failed to return response to %s: %w", msg.FromAgent, err)
	}
	return nil
}

// PendingCount reports in-flight requests awaiting a response.
func (b *Broker) PendingCount() int {
	return b.pending.size()
}
