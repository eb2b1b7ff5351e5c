package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
)

// fakeAgent serves the card and receive endpoints of a remote agent.
func fakeAgent(t *testing.T, name string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(a2a.WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AgentCard{
			Name:    name,
			Version: "1.0.0",
			Capabilities: []a2a.Capability{
				{Name: "chat"},
			},
		})
	})
	mux.HandleFunc(a2a.ReceivePath, func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		var msg a2a.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(a2a.NewResponse(&msg,
			map[string]any{"response": "hello"}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestAgentClientFetchCard(t *testing.T) {
	srv, _ := fakeAgent(t, "Search Agent")
	c := NewAgentClient("Search Agent", srv.URL)

	card, err := c.FetchCard(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if card.Name != "Search Agent" {
		t.Fatalf("unexpected card name %q", card.Name)
	}
	if !cardHasCapability(card, "chat") {
		t.Fatal("card must list the chat capability")
	}
}

func cardHasCapability(card *AgentCard, name string) bool {
	for _, c := range card.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

func TestAgentClientSend(t *testing.T) {
	srv, received := fakeAgent(t, "Search Agent")
	c := NewAgentClient("Search Agent", srv.URL)

	msg := a2a.NewRequest("host-agent", "search-agent", "chat",
		map[string]any{"query": "sunglasses"})
	resp, err := c.Send(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.CorrelationID != msg.ID {
		t.Fatalf("correlation mismatch: %s vs %s", resp.CorrelationID, msg.ID)
	}
	if received.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", received.Load())
	}
}

func TestManagerConnectAndSend(t *testing.T) {
	ctx := context.Background()
	srv, _ := fakeAgent(t, "Advisor Agent")

	m := NewManager(map[string]string{"Advisor Agent": srv.URL})
	m.Connect(ctx)

	card, ok := m.Card("Advisor Agent")
	if !ok {
		t.Fatal("Connect must cache the agent card")
	}
	if card.Name != "Advisor Agent" {
		t.Fatalf("unexpected card name %q", card.Name)
	}

	resp, err := m.Send(ctx, "Advisor Agent",
		a2a.NewRequest("host-agent", "advisor-agent", "chat", nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Data["response"]; got != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestManagerUnknownAgent(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Send(context.Background(), "Order Agent",
		a2a.NewRequest("host-agent", "order-agent", "chat", nil))
	if err == nil {
		t.Fatal("send to an unconfigured agent must fail")
	}
}

func TestManagerHealth(t *testing.T) {
	ctx := context.Background()
	srv, _ := fakeAgent(t, "Search Agent")
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer down.Close()

	m := NewManager(map[string]string{
		"Search Agent": srv.URL,
		"Order Agent":  down.URL,
	})
	health := m.Health(ctx)
	if health["Search Agent"] != nil {
		t.Fatalf("Search Agent should be healthy: %v", health["Search Agent"])
	}
	if health["Order Agent"] == nil {
		t.Fatal("Order Agent should be reported unhealthy")
	}
}
