package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/broker"
	"github.com/mthangit/Multi-Agents-sub000/pkg/memory"
	"github.com/mthangit/Multi-Agents-sub000/pkg/orchestrator"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// scriptedLLM returns a fixed routing decision.
type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	return s.reply, s.err
}

func (s *scriptedLLM) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	return s.reply, s.err
}

func (s *scriptedLLM) Model() string { return "scripted" }

type nopDispatcher struct{}

func (nopDispatcher) Send(ctx context.Context, agentName string, msg *a2a.Message) (*a2a.Response, error) {
	return a2a.NewResponse(msg, map[string]any{
		"response":  "ok",
		"user_info": map[string]any{"name": "Minh"},
		"orders":    map[string]any{"order_id": "ORD-1"},
	}), nil
}

func newTestServer(t *testing.T, llm *scriptedLLM) (*Server, transport.Store, *registry.Registry) {
	t.Helper()
	store := transport.NewMemoryStore()
	reg := registry.New(store)
	b := broker.New("host-agent", store, reg)

	durable, err := memory.OpenDurableTier("sqlite", filepath.Join(t.TempDir(), "history.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { durable.Close() })
	mem := memory.New(memory.NewFastTier(store), durable, nil)

	orch := orchestrator.New(llm, nopDispatcher{}, mem)
	return New(reg, b, orch, mem, nil, store), store, reg
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatEndpoint(t *testing.T) {
	llm := &scriptedLLM{reply: `{"analysis":"greeting","clarified_message":"xin chào","direct_response":"Chào bạn!"}`}
	s, _, _ := newTestServer(t, llm)
	router := s.Router()

	form := url.Values{"message": {"xin chào"}, "user_id": {"u1"}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["response"] != "Chào bạn!" {
		t.Fatalf("unexpected response %v", body["response"])
	}
	if body["session_id"] == "" {
		t.Fatal("session id must be returned")
	}
}

func TestChatEndpointCarriesAgentSideData(t *testing.T) {
	llm := &scriptedLLM{reply: `{"analysis":"order intent","clarified_message":"đặt mẫu GL123",
"selected_agent":"Order Agent","message_to_agent":"[NEW_ORDER] đặt mẫu GL123",
"extracted_product_ids":["GL123"]}`}
	s, _, _ := newTestServer(t, llm)
	router := s.Router()

	form := url.Values{"message": {"đặt cái đó"}, "user_id": {"u1"}, "session_id": {"s1"}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["clarified_message"] != "đặt mẫu GL123" {
		t.Fatalf("clarified message missing: %v", body)
	}
	if body["analysis"] != "order intent" {
		t.Fatalf("analysis missing: %v", body)
	}
	info, ok := body["user_info"].(map[string]any)
	if !ok || info["name"] != "Minh" {
		t.Fatalf("user info missing: %v", body["user_info"])
	}
	orders, ok := body["orders"].(map[string]any)
	if !ok || orders["order_id"] != "ORD-1" {
		t.Fatalf("orders missing: %v", body["orders"])
	}
	if _, ok := body["data"].(map[string]any); !ok {
		t.Fatalf("raw data missing: %v", body["data"])
	}
	ids, ok := body["extracted_product_ids"].([]any)
	if !ok || len(ids) == 0 || ids[0] != "GL123" {
		t.Fatalf("product ids missing: %v", body["extracted_product_ids"])
	}
	if body["is_new_order"] != true {
		t.Fatalf("new order flag missing: %v", body)
	}
}

func TestChatEndpointErrorKeepsContract(t *testing.T) {
	// An empty message makes the turn fail; the endpoint still answers
	// 200 with an apology so the storefront never breaks.
	s, _, _ := newTestServer(t, &scriptedLLM{reply: "{}"})
	router := s.Router()

	form := url.Values{"message": {"   "}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "error" {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.Contains(body["response"].(string), "Xin lỗi") {
		t.Fatalf("expected the apology, got %v", body["response"])
	}
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	router := s.Router()

	info := a2a.AgentInfo{
		ID:       "search-agent",
		Name:     "Search Agent",
		Type:     a2a.AgentTypeSearch,
		Endpoint: a2a.QueueEndpoint("search-agent"),
		Capabilities: []a2a.Capability{
			{Name: "chat"},
		},
	}
	rec := postJSON(t, router, "/a2a/register", info)
	if rec.Code != http.StatusOK {
		t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/a2a/agents", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("expected one agent, got %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/a2a/agents/search-agent", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup failed: %d", rec.Code)
	}

	rec = postJSON(t, router, "/a2a/heartbeat", map[string]any{
		"agent_id": "search-agent",
		"status":   "active",
		"load":     0.4,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, router, "/a2a/unregister/search-agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unregister failed: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/a2a/agents/search-agent", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unregister, got %d", rec.Code)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	rec := postJSON(t, s.Router(), "/a2a/heartbeat", map[string]any{
		"agent_id": "ghost",
		"status":   "active",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSendNotification(t *testing.T) {
	s, store, reg := newTestServer(t, &scriptedLLM{})
	ctx := context.Background()

	err := reg.Register(ctx, &a2a.AgentInfo{
		ID:       "order-agent",
		Name:     "Order Agent",
		Type:     a2a.AgentTypeOrder,
		Endpoint: a2a.QueueEndpoint("order-agent"),
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := a2a.NewNotification("host-agent", "order-agent", "cache_invalidate", nil)
	rec := postJSON(t, s.Router(), "/a2a/send", msg)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a notification, got %d: %s", rec.Code, rec.Body.String())
	}

	depth, err := store.LLen(ctx, a2a.QueueKey("order-agent"))
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("notification must land on the queue, depth %d", depth)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	req := httptest.NewRequest(http.MethodGet, "/a2a/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["store"] != "ok" {
		t.Fatalf("unexpected health %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t, &scriptedLLM{})
	ctx := context.Background()

	if err := store.RPush(ctx, a2a.QueueKey("search-agent"), "x", "y"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/a2a/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	depths, ok := body["queue_depths"].(map[string]any)
	if !ok {
		t.Fatalf("missing queue depths: %v", body)
	}
	if depths["search-agent"] != float64(2) {
		t.Fatalf("unexpected depth %v", depths["search-agent"])
	}
}

func TestAgentCardEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	req := httptest.NewRequest(http.MethodGet, a2a.WellKnownPath, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["name"] != "Host Agent" {
		t.Fatalf("unexpected card %v", body)
	}
}

func TestSessionEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	ctx := context.Background()
	router := s.Router()

	err := s.memory.AddTurn(ctx,
		&memory.MessageRecord{SessionID: "s1", UserID: "u1", SenderType: memory.SenderUser, Content: "hi"},
		&memory.MessageRecord{SessionID: "s1", UserID: "u1", SenderType: memory.SenderHost, Content: "hello"},
	)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("expected 2 messages, got %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 listed session, got %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/users/u1/sessions", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 session, got %v", body)
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/s1/history", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body = decodeBody(t, rec)
	if body["deleted_messages"] != float64(2) {
		t.Fatalf("expected 2 deleted messages, got %v", body)
	}
}

func TestCreateSessionEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &scriptedLLM{})
	router := s.Router()

	rec := postJSON(t, router, "/sessions/create", map[string]any{"user_id": "u1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected a session id, got %v", body)
	}
	if body["user_id"] != "u1" {
		t.Fatalf("unexpected owner %v", body)
	}

	// The session row exists and is listed.
	owner, err := s.memory.Durable().SessionOwner(context.Background(), sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if owner != "u1" {
		t.Fatalf("unexpected stored owner %q", owner)
	}
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if body := decodeBody(t, rec2); body["count"] != float64(1) {
		t.Fatalf("created session not listed: %v", body)
	}

	// An empty body works too: the session is simply anonymous.
	req = httptest.NewRequest(http.MethodPost, "/sessions/create", nil)
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec3.Code, rec3.Body.String())
	}
}
