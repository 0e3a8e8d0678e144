// Package gateway exposes the agent over HTTP: the chat endpoint, the
// approval console, policy reload, and operational surfaces (health,
// metrics).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-agent/aegis/internal/agent"
	"github.com/aegis-agent/aegis/internal/approval"
	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/store"
)

// apiKeyEnv names the environment variable holding the shared API key.
// Requests must present it in the X-Api-Key header.
const apiKeyEnv = "AGENT_API_KEY"

// Server is the HTTP gateway.
type Server struct {
	service   *agent.Service
	history   *agent.History
	approvals *approval.Manager
	policy    *policy.Engine
	store     store.Store
	logger    *observability.Logger
	metrics   *observability.Metrics

	// lookupKey reads the expected API key; swapped in tests.
	lookupKey func(string) (string, error)

	httpServer *http.Server
}

// NewServer wires the gateway.
func NewServer(
	service *agent.Service,
	history *agent.History,
	approvals *approval.Manager,
	engine *policy.Engine,
	st store.Store,
	logger *observability.Logger,
	metrics *observability.Metrics,
	lookupKey func(string) (string, error),
) *Server {
	return &Server{
		service:   service,
		history:   history,
		approvals: approvals,
		policy:    engine,
		store:     st,
		logger:    logger,
		metrics:   metrics,
		lookupKey: lookupKey,
	}
}

// Handler builds the route table. Health and metrics are open; everything
// else requires the API key.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /chat", s.requireAPIKey(s.handleChat))
	mux.Handle("GET /chat/history/{user_id}", s.requireAPIKey(s.handleChatHistory))
	mux.Handle("GET /bootstrap/status", s.requireAPIKey(s.handleBootstrapStatus))
	mux.Handle("POST /policy/reload", s.requireAPIKey(s.handlePolicyReload))
	mux.Handle("GET /approval/pending", s.requireAPIKey(s.handleApprovalsPending))
	mux.Handle("GET /approval/{id}", s.requireAPIKey(s.handleApprovalGet))
	mux.Handle("POST /approval/{id}/respond", s.requireAPIKey(s.handleApprovalRespond))

	return s.withMetrics(mux)
}

// Start begins serving on addr and returns once the listener is bound.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(context.Background(), "http server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info(context.Background(), "starting http server", "addr", addr)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireAPIKey gates a handler behind the shared API key. An unset key is
// a deployment error and every request fails until it is fixed.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected, err := s.lookupKey(apiKeyEnv)
		if err != nil || expected == "" {
			writeError(w, http.StatusServiceUnavailable, "server API key not configured")
			return
		}
		if r.Header.Get("X-Api-Key") != expected {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if pattern := r.Pattern; pattern != "" {
			path = pattern
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, path, fmt.Sprintf("%d", rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "ok"
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			status = "degraded"
			storeStatus = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"store":          storeStatus,
		"bootstrap_mode": s.service.BootstrapMode(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Channel == "" {
		req.Channel = "api"
	}

	// Identity formation happens on the operator console only.
	if s.service.BootstrapMode() && req.Channel != "cli" {
		writeError(w, http.StatusForbidden, "agent is in bootstrap mode; connect via the local console")
		return
	}

	res, err := s.service.Chat(r.Context(), req)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(r.Context(), "chat failed", "error", err)
		}
		writeError(w, http.StatusServiceUnavailable, "model backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	messages := s.history.Load(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"messages": messages,
	})
}

func (s *Server) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bootstrap_mode": s.service.BootstrapMode(),
	})
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Reload(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reload failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approvals")
		return
	}
	if pending == nil {
		pending = []*approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleApprovalGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.approvals.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read approval")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprovalRespond(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status     string `json:"status"`
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status != approval.StatusApproved && body.Status != approval.StatusDenied {
		writeError(w, http.StatusBadRequest, "status must be approved or denied")
		return
	}
	if body.ResolvedBy == "" {
		body.ResolvedBy = "operator"
	}

	if _, err := s.approvals.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}

	ok, err := s.approvals.Resolve(r.Context(), id, body.Status, body.ResolvedBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve approval")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "approval already resolved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
