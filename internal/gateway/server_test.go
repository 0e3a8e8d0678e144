package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aegis-agent/aegis/internal/agent"
	"github.com/aegis-agent/aegis/internal/approval"
	"github.com/aegis-agent/aegis/internal/identity"
	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/ratelimit"
	"github.com/aegis-agent/aegis/internal/skills"
	"github.com/aegis-agent/aegis/internal/store"
	"github.com/aegis-agent/aegis/internal/trace"
)

const testAPIKey = "test-key"

type stubClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
}

func (c *stubClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: "stub reply"}}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

type gatewayDeps struct {
	server      *Server
	handler     http.Handler
	client      *stubClient
	store       *store.MemoryStore
	approvals   *approval.Manager
	policyPath  string
	identityDir string
}

func newTestGateway(t *testing.T) *gatewayDeps {
	t.Helper()
	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
zones:
  sandbox:
    path: /tmp/sandbox
    read: allow
    write: allow
    execute: allow
rate_limits:
  default:
    max_calls: 1000
    window_seconds: 60
external_access:
  http_get: allow
`
	if err := os.WriteFile(policyPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	st := store.NewMemoryStore()
	engine, err := policy.NewEngine(policyPath, ratelimit.NewLimiter(st, nil))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	approvals := approval.NewManager(st, nil, time.Second)
	recorder := trace.NewRecorder(nil, st)

	identityDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(identityDir, identity.FileSoul), []byte("soul"), 0o644); err != nil {
		t.Fatalf("write soul: %v", err)
	}

	registry := skills.NewRegistry()
	runner := skills.NewRunner(registry, engine, approvals, recorder, nil)
	client := &stubClient{}
	orchestrator := agent.NewOrchestrator(client, registry, runner, engine, 5)
	history := agent.NewHistory(st)
	service := agent.NewService(
		orchestrator, history, identity.NewLoader(identityDir), approvals,
		recorder, nil, nil,
		agent.RouterConfig{DefaultModel: "llama3.2:3b", ReasoningModel: "qwen3:8b", DeepModel: "qwen3:32b", NumCtx: 8192},
		6000,
	)

	lookup := func(name string) (string, error) { return testAPIKey, nil }
	server := NewServer(service, history, approvals, engine, st, nil, nil, lookup)
	return &gatewayDeps{
		server:      server,
		handler:     server.Handler(),
		client:      client,
		store:       st,
		approvals:   approvals,
		policyPath:  policyPath,
		identityDir: identityDir,
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if withKey {
		req.Header.Set("X-Api-Key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	d := newTestGateway(t)

	protected := []struct{ method, path string }{
		{"POST", "/chat"},
		{"GET", "/chat/history/alice"},
		{"GET", "/bootstrap/status"},
		{"POST", "/policy/reload"},
		{"GET", "/approval/pending"},
	}
	for _, ep := range protected {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rec := doRequest(t, d.handler, ep.method, ep.path, "", false)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("without key: status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAuthWrongKey(t *testing.T) {
	d := newTestGateway(t)
	req := httptest.NewRequest("GET", "/bootstrap/status", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthKeyNotConfigured(t *testing.T) {
	d := newTestGateway(t)
	d.server.lookupKey = func(name string) (string, error) {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	handler := d.server.Handler()
	rec := doRequest(t, handler, "GET", "/bootstrap/status", "", true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	d := newTestGateway(t)
	rec := doRequest(t, d.handler, "GET", "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["bootstrap_mode"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsIsOpen(t *testing.T) {
	d := newTestGateway(t)
	rec := doRequest(t, d.handler, "GET", "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	d := newTestGateway(t)
	rec := doRequest(t, d.handler, "POST", "/chat", `{"message":"hi","user_id":"alice"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != "stub reply" {
		t.Errorf("response = %v", body["response"])
	}
	if body["model"] != "llama3.2:3b" {
		t.Errorf("model = %v", body["model"])
	}
	if id, _ := body["trace_id"].(string); len(id) != 16 {
		t.Errorf("trace_id = %v", body["trace_id"])
	}
}

func TestChatModelFailure(t *testing.T) {
	d := newTestGateway(t)
	d.client.err = errors.New("connection refused")
	rec := doRequest(t, d.handler, "POST", "/chat", `{"message":"hi"}`, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["detail"] != "model backend unavailable" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestChatValidation(t *testing.T) {
	d := newTestGateway(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"missing message", `{}`},
		{"invalid json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, d.handler, "POST", "/chat", tt.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChatBootstrapGate(t *testing.T) {
	d := newTestGateway(t)

	// Flip the identity dir into bootstrap mode.
	if err := os.WriteFile(filepath.Join(d.identityDir, identity.FileBootstrap), []byte("interview"), 0o644); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}

	rec := doRequest(t, d.handler, "POST", "/chat", `{"message":"hi","channel":"api"}`, true)
	if rec.Code != http.StatusForbidden {
		t.Errorf("api channel during bootstrap: status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, d.handler, "POST", "/chat", `{"message":"hi","channel":"cli"}`, true)
	if rec.Code != http.StatusOK {
		t.Errorf("cli channel during bootstrap: status = %d, want 200", rec.Code)
	}
}

func TestChatHistory(t *testing.T) {
	d := newTestGateway(t)
	if rec := doRequest(t, d.handler, "POST", "/chat", `{"message":"hi","user_id":"alice"}`, true); rec.Code != http.StatusOK {
		t.Fatalf("chat failed: %d", rec.Code)
	}

	rec := doRequest(t, d.handler, "GET", "/chat/history/alice", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Errorf("history has %d messages, want 2", len(messages))
	}
}

func TestBootstrapStatus(t *testing.T) {
	d := newTestGateway(t)
	rec := doRequest(t, d.handler, "GET", "/bootstrap/status", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["bootstrap_mode"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestPolicyReload(t *testing.T) {
	d := newTestGateway(t)

	rec := doRequest(t, d.handler, "POST", "/policy/reload", "", true)
	if rec.Code != http.StatusOK {
		t.Errorf("reload valid policy: status = %d", rec.Code)
	}

	if err := os.WriteFile(d.policyPath, []byte("zones: [broken"), 0o644); err != nil {
		t.Fatalf("corrupt policy: %v", err)
	}
	rec = doRequest(t, d.handler, "POST", "/policy/reload", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reload broken policy: status = %d, want 400", rec.Code)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	d := newTestGateway(t)
	ctx := context.Background()

	id, err := d.approvals.Create(ctx, "skill:web_search", "external", "medium", "test approval", "web_search", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doRequest(t, d.handler, "GET", "/approval/pending", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending: status = %d", rec.Code)
	}
	pending, _ := decodeBody(t, rec)["pending"].([]any)
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}

	rec = doRequest(t, d.handler, "GET", "/approval/"+id, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != approval.StatusPending {
		t.Errorf("status = %v", body["status"])
	}

	rec = doRequest(t, d.handler, "POST", "/approval/"+id+"/respond", `{"status":"approved","resolved_by":"alice"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// A second response hits the write-once gate.
	rec = doRequest(t, d.handler, "POST", "/approval/"+id+"/respond", `{"status":"denied"}`, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("second respond: status = %d, want 409", rec.Code)
	}

	got, err := d.approvals.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusApproved || got.ResolvedBy != "alice" {
		t.Errorf("record = %+v", got)
	}
}

func TestApprovalNotFound(t *testing.T) {
	d := newTestGateway(t)
	rec := doRequest(t, d.handler, "GET", "/approval/no-such-id", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get: status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, d.handler, "POST", "/approval/no-such-id/respond", `{"status":"approved"}`, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("respond: status = %d, want 404", rec.Code)
	}
}

func TestApprovalRespondValidation(t *testing.T) {
	d := newTestGateway(t)
	id, err := d.approvals.Create(context.Background(), "skill:x", "external", "low", "d", "x", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec := doRequest(t, d.handler, "POST", "/approval/"+id+"/respond", `{"status":"maybe"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
