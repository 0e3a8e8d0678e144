package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaChat(t *testing.T) {
	var gotBody ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:     "llama3",
			Message:   Message{Role: RoleAssistant, Content: "hello back"},
			Done:      true,
			EvalCount: 12,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		NumCtx:   8192,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "hello back" {
		t.Errorf("content = %q, want hello back", resp.Message.Content)
	}
	if resp.EvalCount != 12 {
		t.Errorf("eval count = %d, want 12", resp.EvalCount)
	}
	if gotBody.Stream {
		t.Error("request asked for streaming")
	}
	if gotBody.Options["num_ctx"] != float64(8192) {
		t.Errorf("num_ctx = %v, want 8192", gotBody.Options["num_ctx"])
	}
}

func TestOllamaChatToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"model": "llama3",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"function": {"name": "web_search", "arguments": {"query": "weather"}}}
				]
			},
			"done": true
		}`))
	}))
	defer server.Close()

	resp, err := NewOllamaClient(server.URL).Chat(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: RoleUser, Content: "weather?"}},
		Tools:    []Tool{{Type: "function", Function: ToolFunction{Name: "web_search"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Function.Name != "web_search" {
		t.Errorf("tool name = %q, want web_search", tc.Function.Name)
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["query"] != "weather" {
		t.Errorf("arguments = %v", args)
	}
}

func TestOllamaChatServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'missing' not found"}`))
	}))
	defer server.Close()

	_, err := NewOllamaClient(server.URL).Chat(context.Background(), ChatRequest{Model: "missing"})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error %q does not carry server message", err)
	}
}

func TestOllamaVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("path = %s, want /api/version", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version": "0.6.2"}`))
	}))
	defer server.Close()

	version, err := NewOllamaClient(server.URL).Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "0.6.2" {
		t.Errorf("version = %q, want 0.6.2", version)
	}
}
