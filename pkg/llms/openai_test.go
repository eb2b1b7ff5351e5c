package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if capture != nil {
			body["_auth"] = r.Header.Get("Authorization")
			*capture = body
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := completionServer(t, "hello there", &got)
	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", WithHost(srv.URL))

	out, err := p.Generate(context.Background(), "be brief", "say hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello there" {
		t.Fatalf("unexpected completion %q", out)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model %v", got["model"])
	}
	if got["_auth"] != "Bearer sk-test" {
		t.Fatalf("missing bearer auth, got %v", got["_auth"])
	}
	msgs := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Fatalf("first message must be the system prompt, got %v", role)
	}
	if _, ok := got["response_format"]; ok {
		t.Fatal("plain Generate must not request a response format")
	}
}

func TestGenerateJSONSetsResponseFormat(t *testing.T) {
	var got map[string]any
	srv := completionServer(t, `{"ok":true}`, &got)
	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", WithHost(srv.URL))

	out, err := p.GenerateJSON(context.Background(), "", `{"q":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected completion %q", out)
	}
	format, ok := got["response_format"].(map[string]any)
	if !ok || format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", got["response_format"])
	}
	// No system prompt, so a single user message.
	if msgs := got["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", "gpt-4o-mini", WithHost(srv.URL))
	if _, err := p.Generate(context.Background(), "", "hi"); err == nil {
		t.Fatal("API-level errors must surface")
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", "gpt-4o-mini", WithHost(srv.URL))
	if _, err := p.Generate(context.Background(), "", "hi"); err == nil {
		t.Fatal("empty choices must be an error")
	}
}
