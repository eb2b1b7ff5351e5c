// Package orchestrator implements the host-side turn loop: route each
// customer message through the routing model, dispatch it to the chosen
// agent, enrich the reply with catalog data, and persist the exchange.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/catalog"
	"github.com/mthangit/Multi-Agents-sub000/pkg/llms"
	"github.com/mthangit/Multi-Agents-sub000/pkg/memory"
	"github.com/mthangit/Multi-Agents-sub000/pkg/observability"
)

// HostAgentID identifies the orchestrator on the message fabric.
const HostAgentID = "host-agent"

// Dispatcher delivers a message to a named downstream agent and waits
// for its reply.
type Dispatcher interface {
	Send(ctx context.Context, agentName string, msg *a2a.Message) (*a2a.Response, error)
}

// FileAttachment is one uploaded file forwarded to the search agent.
type FileAttachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// TurnRequest is one inbound customer message.
type TurnRequest struct {
	SessionID string
	UserID    string
	Message   string
	Files     []FileAttachment
}

// TurnResult is the host's answer for one turn.
type TurnResult struct {
	SessionID           string           `json:"session_id"`
	Reply               string           `json:"response"`
	Agent               string           `json:"agent,omitempty"`
	ClarifiedMessage    string           `json:"clarified_message,omitempty"`
	Analysis            string           `json:"analysis,omitempty"`
	Data                map[string]any   `json:"data,omitempty"`
	UserInfo            map[string]any   `json:"user_info,omitempty"`
	Orders              any              `json:"orders,omitempty"`
	Products            []map[string]any `json:"products,omitempty"`
	ExtractedProductIDs []string         `json:"extracted_product_ids,omitempty"`
	NewOrder            bool             `json:"is_new_order,omitempty"`
	EditOrder           bool             `json:"is_edit_order,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// Orchestrator coordinates one turn at a time per session.
type Orchestrator struct {
	llm        llms.Provider
	dispatcher Dispatcher
	memory     *memory.Memory
	catalog    *catalog.Catalog
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog enables product enrichment.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New builds an Orchestrator.
func New(llm llms.Provider, dispatcher Dispatcher, mem *memory.Memory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:        llm,
		dispatcher: dispatcher,
		memory:     mem,
		logger:     slog.Default(),
		sessions:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn processes one customer message end to end. Turns within a
// session are serialized; turns across sessions run concurrently.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Files) == 0 {
		return nil, fmt.Errorf("message cannot be empty")
	}

	lock := o.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	result, err := o.processTurn(ctx, req)
	if err != nil {
		observability.Turns.WithLabelValues("error").Inc()
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) processTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	contextSummary := o.memory.ContextSummary(ctx, req.UserID, req.SessionID, 6)

	// Image uploads skip routing: only the search agent handles them.
	if len(req.Files) > 0 {
		return o.dispatchFiles(ctx, req)
	}

	decision := o.route(ctx, req.Message, contextSummary, nil)
	if decision.IsDirect() {
		reply := decision.DirectResponse
		if reply == "" {
			reply = decision.ClarifiedMessage
		}
		result := &TurnResult{
			SessionID:        req.SessionID,
			Reply:            reply,
			ClarifiedMessage: decision.ClarifiedMessage,
			Analysis:         decision.Analysis,
			Timestamp:        time.Now().UTC(),
		}
		o.persistTurn(ctx, req, result, decision, memory.SenderHost)
		observability.Turns.WithLabelValues("direct").Inc()
		return result, nil
	}

	payload := map[string]any{
		"message":    decision.MessageToAgent,
		"session_id": req.SessionID,
	}
	if req.UserID != "" {
		payload["user_id"] = req.UserID
	}
	if len(decision.ExtractedProductIDs) > 0 {
		payload["product_ids"] = decision.ExtractedProductIDs
	}

	msg := a2a.NewRequest(HostAgentID, decision.SelectedAgent, "chat", payload)
	resp, err := o.dispatcher.Send(ctx, decision.SelectedAgent, msg)
	if err != nil {
		o.logger.Error("dispatch failed", "agent", decision.SelectedAgent,
			"session", req.SessionID, "error", err)
		return nil, fmt.Errorf("failed to reach %s: %w", decision.SelectedAgent, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s returned an error: %s", decision.SelectedAgent, resp.Error)
	}

	result := o.buildResult(ctx, req, decision, resp.Data)
	o.persistTurn(ctx, req, result, decision, senderFor(decision.SelectedAgent))
	observability.Turns.WithLabelValues("dispatched").Inc()
	return result, nil
}

// route calls the routing model and degrades to a direct response when
// the decision cannot be parsed.
func (o *Orchestrator) route(ctx context.Context, message, contextSummary string, fileNames []string) *RoutingDecision {
	started := time.Now()
	raw, err := o.llm.GenerateJSON(ctx, RoutingSystemPrompt(),
		BuildRoutingPrompt(message, contextSummary, fileNames))
	observability.RoutingLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		o.logger.Error("routing model call failed", "error", err)
		return &RoutingDecision{
			Analysis:         "routing unavailable",
			ClarifiedMessage: message,
			DirectResponse:   "Xin lỗi, hệ thống đang bận. Bạn vui lòng thử lại sau ít phút nhé.",
		}
	}

	decision, err := ParseDecision(raw)
	if err != nil {
		o.logger.Warn("unparseable routing decision, answering directly", "error", err)
		return &RoutingDecision{
			Analysis:         "unparseable routing decision",
			ClarifiedMessage: message,
			DirectResponse:   strings.TrimSpace(raw),
		}
	}
	return decision
}

// dispatchFiles forwards uploads straight to the search agent.
func (o *Orchestrator) dispatchFiles(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	files := make([]map[string]any, len(req.Files))
	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.Name
		files[i] = map[string]any{
			"name":         f.Name,
			"content_type": f.ContentType,
			"data":         base64.StdEncoding.EncodeToString(f.Data),
		}
	}

	payload := map[string]any{
		"message":    req.Message,
		"session_id": req.SessionID,
		"files":      files,
	}
	msg := a2a.NewRequest(HostAgentID, SearchAgent, "image_search", payload)
	resp, err := o.dispatcher.Send(ctx, SearchAgent, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", SearchAgent, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s returned an error: %s", SearchAgent, resp.Error)
	}

	decision := &RoutingDecision{
		Analysis:         "image search",
		ClarifiedMessage: req.Message,
		SelectedAgent:    SearchAgent,
	}
	result := o.buildResult(ctx, req, decision, resp.Data)
	o.persistTurn(ctx, req, result, decision, memory.SenderSearch)
	observability.Turns.WithLabelValues("files").Inc()
	return result, nil
}

// buildResult shapes the agent's payload into a TurnResult: the reply
// text plus the structured side-data (orders, user info, products) the
// downstream agent returned.
func (o *Orchestrator) buildResult(ctx context.Context, req TurnRequest, decision *RoutingDecision, data map[string]any) *TurnResult {
	reply, _ := data["response"].(string)
	if reply == "" {
		reply, _ = data["message"].(string)
	}

	result := &TurnResult{
		SessionID:        req.SessionID,
		Reply:            reply,
		Agent:            decision.SelectedAgent,
		ClarifiedMessage: decision.ClarifiedMessage,
		Analysis:         decision.Analysis,
		Data:             data,
		Timestamp:        time.Now().UTC(),
	}
	if info, ok := data["user_info"].(map[string]any); ok {
		result.UserInfo = info
	}
	if orders, ok := data["orders"]; ok && orders != nil {
		result.Orders = orders
	}

	// The routing model prefixes message_to_agent with the order markers;
	// a marker echoed back in the agent's reply counts too but never
	// reaches the customer.
	result.NewOrder = strings.HasPrefix(decision.MessageToAgent, MarkerNewOrder)
	result.EditOrder = strings.HasPrefix(decision.MessageToAgent, MarkerEditOrder)
	if strings.Contains(reply, MarkerNewOrder) {
		result.NewOrder = true
		result.Reply = strings.TrimSpace(strings.ReplaceAll(result.Reply, MarkerNewOrder, ""))
	}
	if strings.Contains(reply, MarkerEditOrder) {
		result.EditOrder = true
		result.Reply = strings.TrimSpace(strings.ReplaceAll(result.Reply, MarkerEditOrder, ""))
	}

	ids := make([]string, 0, len(decision.ExtractedProductIDs))
	ids = append(ids, decision.ExtractedProductIDs...)
	ids = append(ids, ExtractProductIDs(reply)...)
	ids = dedupe(ids)
	result.ExtractedProductIDs = ids

	agentProducts := productMaps(data["products"], o.logger)
	result.Products = o.enrichProducts(ctx, ids, agentProducts)
	return result
}

// persistTurn writes the user and agent rows for one exchange. History
// failures are logged, not returned: the customer already has their
// answer.
func (o *Orchestrator) persistTurn(ctx context.Context, req TurnRequest, result *TurnResult, decision *RoutingDecision, sender memory.SenderType) {
	userMeta := map[string]any{}
	if decision.ClarifiedMessage != "" && decision.ClarifiedMessage != req.Message {
		userMeta[memory.MetaClarifiedContent] = decision.ClarifiedMessage
	}
	if len(req.Files) > 0 {
		names := make([]string, len(req.Files))
		for i, f := range req.Files {
			names[i] = f.Name
		}
		userMeta[memory.MetaFileNames] = names
	}

	agentMeta := map[string]any{
		memory.MetaAgentName: string(sender),
	}
	if decision.Analysis != "" {
		agentMeta[memory.MetaAnalysis] = decision.Analysis
	}
	if len(result.Data) > 0 {
		agentMeta[memory.MetaResponseData] = result.Data
	}
	if len(result.UserInfo) > 0 {
		agentMeta[memory.MetaUserInfo] = result.UserInfo
	}
	if len(result.Products) > 0 {
		agentMeta[memory.MetaProducts] = result.Products
	}
	if len(result.ExtractedProductIDs) > 0 {
		agentMeta[memory.MetaExtractedProductIDs] = result.ExtractedProductIDs
	}
	switch {
	case result.Orders != nil:
		agentMeta[memory.MetaOrders] = result.Orders
	case result.NewOrder || result.EditOrder:
		agentMeta[memory.MetaOrders] = map[string]any{
			"is_new_order":  result.NewOrder,
			"is_edit_order": result.EditOrder,
		}
	}

	err := o.memory.AddTurn(ctx,
		&memory.MessageRecord{
			SessionID:  req.SessionID,
			UserID:     req.UserID,
			SenderType: memory.SenderUser,
			Content:    req.Message,
			Metadata:   userMeta,
		},
		&memory.MessageRecord{
			SessionID:  req.SessionID,
			UserID:     req.UserID,
			SenderType: sender,
			Content:    result.Reply,
			Metadata:   agentMeta,
		},
	)
	if err != nil {
		o.logger.Error("failed to persist turn", "session", req.SessionID, "error", err)
	}
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.sessions[sessionID] = lock
	}
	return lock
}

func senderFor(agentName string) memory.SenderType {
	switch agentName {
	case AdvisorAgent:
		return memory.SenderAdvisor
	case SearchAgent:
		return memory.SenderSearch
	case OrderAgent:
		return memory.SenderOrder
	default:
		return memory.SenderHost
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
