package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-agent/aegis/internal/approval"
	"github.com/aegis-agent/aegis/internal/identity"
	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/trace"
)

// ChatRequest is one user turn entering the agent.
type ChatRequest struct {
	Message     string `json:"message"`
	Model       string `json:"model,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Channel     string `json:"channel,omitempty"`
	AutoApprove bool   `json:"auto_approve,omitempty"`
}

// ChatResult is the agent's reply.
type ChatResult struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	TraceID  string `json:"trace_id"`
	Stats    Stats  `json:"-"`
}

// Service handles one chat turn end to end: history, identity, routing, the
// tool loop, and bootstrap proposals.
type Service struct {
	orchestrator *Orchestrator
	history      *History
	identity     *identity.Loader
	approvals    *approval.Manager
	recorder     *trace.Recorder
	logger       *observability.Logger
	metrics      *observability.Metrics

	router        RouterConfig
	historyBudget int
}

// NewService wires the chat path. historyBudget <= 0 defaults to 6000
// estimated tokens.
func NewService(
	orchestrator *Orchestrator,
	history *History,
	loader *identity.Loader,
	approvals *approval.Manager,
	recorder *trace.Recorder,
	logger *observability.Logger,
	metrics *observability.Metrics,
	router RouterConfig,
	historyBudget int,
) *Service {
	if historyBudget <= 0 {
		historyBudget = 6000
	}
	return &Service{
		orchestrator:  orchestrator,
		history:       history,
		identity:      loader,
		approvals:     approvals,
		recorder:      recorder,
		logger:        logger,
		metrics:       metrics,
		router:        router,
		historyBudget: historyBudget,
	}
}

// BootstrapMode reports whether the agent is still onboarding.
func (s *Service) BootstrapMode() bool {
	return s.identity.IsBootstrapMode()
}

// Chat runs one turn. The returned trace id correlates everything the turn
// emitted.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	userID := req.UserID
	if userID == "" {
		userID = "default"
	}
	ctx, traceID := trace.New(ctx, userID, req.Channel)

	history := s.history.Load(ctx, userID)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: req.Message})

	id := s.identity.Load()
	systemPrompt := id.SystemPrompt()
	inBootstrap := id.Has(identity.FileBootstrap)

	// Bootstrap turns skip truncation so the model keeps the whole
	// onboarding conversation in view.
	turn := history
	if !inBootstrap {
		turn = Truncate(history, s.historyBudget)
	}

	messages := make([]llm.Message, 0, len(turn)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, turn...)

	model := s.router.Route(req.Message, req.Model)
	numCtx := s.router.ContextFor(model)

	s.recorder.Chat(ctx, "request", req.Message, model)
	start := time.Now()

	text, _, stats, err := s.orchestrator.RunToolLoop(ctx, messages, model, numCtx, userID, req.AutoApprove)
	if err != nil {
		if s.metrics != nil {
			s.metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		}
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.LLMRequests.WithLabelValues(model, "success").Inc()
		s.metrics.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
	s.recorder.Chat(ctx, "response", text, model)

	if inBootstrap {
		text = s.handleProposals(ctx, text, req.AutoApprove)
	}

	// Persist only the plain turn; the loop's tool messages are transient.
	history = append(history, llm.Message{Role: llm.RoleAssistant, Content: text})
	if err := s.history.Save(ctx, userID, history); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "history save failed", "user_id", userID, "error", err)
	}

	return &ChatResult{Response: text, Model: model, TraceID: traceID, Stats: stats}, nil
}

// handleProposals processes bootstrap file proposals in model output:
// auto-approve writes them immediately, otherwise each goes through the
// approval gate in the background. The display text has the proposal
// blocks stripped either way.
func (s *Service) handleProposals(ctx context.Context, text string, autoApprove bool) string {
	proposals := identity.ExtractProposals(text)
	if len(proposals) == 0 {
		return text
	}
	display := identity.StripProposals(text)

	for _, p := range proposals {
		if err := identity.ValidateProposal(p); err != nil {
			if s.logger != nil {
				s.logger.Warn(ctx, "bootstrap proposal rejected", "file", p.Filename, "error", err)
			}
			continue
		}
		if autoApprove {
			if err := s.identity.WriteProposal(p); err == nil {
				s.identity.CheckBootstrapComplete()
			}
			continue
		}
		go s.awaitProposalApproval(context.WithoutCancel(ctx), p)
	}
	return display
}

// awaitProposalApproval creates an approval record for one proposed
// identity file and writes the file if the owner approves.
func (s *Service) awaitProposalApproval(ctx context.Context, p identity.Proposal) {
	approvalID, err := s.approvals.Create(ctx,
		"bootstrap_write",
		"identity",
		"medium",
		fmt.Sprintf("Write %s during bootstrap", p.Filename),
		s.identity.Dir()+"/"+p.Filename,
		p.Content,
	)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "bootstrap approval create failed", "file", p.Filename, "error", err)
		}
		return
	}

	status, err := s.approvals.Wait(ctx, approvalID, 0)
	s.recorder.Approval(ctx, approvalID, "bootstrap_write", status, "")
	if err != nil || status != approval.StatusApproved {
		return
	}
	if err := s.identity.WriteProposal(p); err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "bootstrap proposal write failed", "file", p.Filename, "error", err)
		}
		return
	}
	s.identity.CheckBootstrapComplete()
}
