// Package agent drives the conversation: model routing, history budgeting,
// and the tool-calling loop that connects the model to the skill pipeline.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

// defaultRefusalPatterns match a model declining tool use because it
// believes it has no real-time access. The set is empirical and drifts
// across model versions; the policy document's refusal_patterns entry
// overrides it without a rebuild.
var defaultRefusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)don.t have real.time`),
	regexp.MustCompile(`(?i)real.time capabilities`),
	regexp.MustCompile(`(?i)real.time access`),
	regexp.MustCompile(`(?i)training data`),
	regexp.MustCompile(`(?i)knowledge cutoff`),
	regexp.MustCompile(`(?i)can.t access the internet`),
	regexp.MustCompile(`(?i)cannot access the internet`),
	regexp.MustCompile(`(?i)no internet access`),
	regexp.MustCompile(`(?i)not able to browse`),
	regexp.MustCompile(`(?i)cannot browse`),
	regexp.MustCompile(`(?i)don.t have access to current`),
	regexp.MustCompile(`(?i)as an ai[^.]{0,30}(cannot|can.t)`),
	regexp.MustCompile(`(?i)unable to provide current`),
}

// retryNudge is the one-shot user message injected after a refusal.
const retryNudge = "You have a web_search tool available. " +
	"Please use it now to find a current answer rather than relying on training data."

// finalAnswerPrompt asks for a conclusion once the iteration cap is hit.
const finalAnswerPrompt = "Please provide your final answer based on the information gathered so far."

// Stats summarizes one tool loop run.
type Stats struct {
	// Iterations counts completed model rounds.
	Iterations int
	// SkillsCalled lists executed skills in call order, one entry per
	// execution.
	SkillsCalled []string
}

// Orchestrator runs the model↔skills loop.
type Orchestrator struct {
	client   llm.Client
	registry *skills.Registry
	runner   *skills.Runner
	policy   *policy.Engine
	tracer   *observability.Tracer

	// MaxIterations caps tool-call rounds per turn.
	MaxIterations int
}

// NewOrchestrator wires the loop. maxIterations <= 0 defaults to 5.
func NewOrchestrator(client llm.Client, registry *skills.Registry, runner *skills.Runner, engine *policy.Engine, maxIterations int) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Orchestrator{
		client:        client,
		registry:      registry,
		runner:        runner,
		policy:        engine,
		MaxIterations: maxIterations,
	}
}

// SetTracer enables a span around every model call.
func (o *Orchestrator) SetTracer(tracer *observability.Tracer) {
	o.tracer = tracer
}

// chat performs one model call, covered by a span when a tracer is
// configured.
func (o *Orchestrator) chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if o.tracer == nil {
		return o.client.Chat(ctx, req)
	}
	spanCtx, span := o.tracer.TraceModelCall(ctx, req.Model)
	defer span.End()
	resp, err := o.client.Chat(spanCtx, req)
	if err != nil {
		o.tracer.RecordError(span, err)
	}
	return resp, err
}

// refusalPatterns returns the active refusal set: the policy document's
// when present, the compiled-in default otherwise.
func (o *Orchestrator) refusalPatterns() []*regexp.Regexp {
	if o.policy != nil {
		if pats := o.policy.RefusalPatterns(); len(pats) > 0 {
			return pats
		}
	}
	return defaultRefusalPatterns
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// parseArguments accepts a JSON object, a JSON-encoded string containing an
// object, or garbage (which becomes an empty parameter map — the skill's
// validation reports what is missing).
func parseArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err == nil && params != nil {
		return params
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &params); err == nil && params != nil {
			return params
		}
	}
	return map[string]any{}
}

// RunToolLoop drives the model until it answers in plain text or the
// iteration cap forces a conclusion.
//
// The returned messages include the tool turns so the caller can ground a
// follow-up model call; they must not be persisted to long-lived
// conversation history.
func (o *Orchestrator) RunToolLoop(ctx context.Context, messages []llm.Message, model string, numCtx int, userID string, autoApprove bool) (string, []llm.Message, Stats, error) {
	tools := o.registry.LLMTools()

	// No skills registered: plain chat, no loop.
	if len(tools) == 0 {
		resp, err := o.chat(ctx, llm.ChatRequest{Model: model, Messages: messages, NumCtx: numCtx})
		if err != nil {
			return "", messages, Stats{}, err
		}
		text := resp.Message.Content
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text})
		return text, messages, Stats{Iterations: 0, SkillsCalled: []string{}}, nil
	}

	perSkillCounts := make(map[string]int)
	skillsCalled := []string{}
	nudged := false
	iteration := 0

	for iteration < o.MaxIterations {
		resp, err := o.chat(ctx, llm.ChatRequest{
			Model:    model,
			Messages: messages,
			Tools:    tools,
			NumCtx:   numCtx,
		})
		if err != nil {
			return "", messages, Stats{Iterations: iteration, SkillsCalled: skillsCalled}, err
		}
		msg := resp.Message

		if len(msg.ToolCalls) == 0 {
			text := msg.Content

			// One-shot retry: a first-round refusal with no skills called
			// gets nudged toward web_search.
			if iteration == 0 && !nudged && len(skillsCalled) == 0 && matchesAny(o.refusalPatterns(), text) {
				messages = append(messages,
					llm.Message{Role: llm.RoleAssistant, Content: text},
					llm.Message{Role: llm.RoleUser, Content: retryNudge},
				)
				nudged = true
				iteration++
				continue
			}

			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text})
			return text, messages, Stats{Iterations: iteration, SkillsCalled: skillsCalled}, nil
		}

		assistantMsg := msg
		assistantMsg.Role = llm.RoleAssistant
		messages = append(messages, assistantMsg)

		for _, call := range msg.ToolCalls {
			name := call.Function.Name
			params := parseArguments(call.Function.Arguments)

			var toolResult string
			skill := o.registry.Get(name)
			switch {
			case skill == nil:
				toolResult = fmt.Sprintf("[%s] Unknown skill — not registered.", name)
			case o.capReached(skill, perSkillCounts):
				toolResult = fmt.Sprintf("[%s] Per-turn call limit (%d) reached — try a different approach.",
					name, skill.Meta().MaxCallsPerTurn)
			default:
				// Reserve the slot before executing; a pre-execution
				// rejection (rate limit, bad params, no approval) releases
				// it so failed attempts don't burn the budget.
				perSkillCounts[name]++
				var status skills.Status
				toolResult, status = o.runner.Execute(ctx, skill, params, userID, autoApprove)
				if status.PreExecution() {
					perSkillCounts[name]--
				} else {
					skillsCalled = append(skillsCalled, name)
				}
			}

			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: toolResult})
		}

		iteration++
	}

	// Cap reached: ask for a conclusion with what was gathered.
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: finalAnswerPrompt})
	resp, err := o.chat(ctx, llm.ChatRequest{Model: model, Messages: messages, NumCtx: numCtx})
	if err != nil {
		return "", messages, Stats{Iterations: iteration, SkillsCalled: skillsCalled}, err
	}
	text := resp.Message.Content
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text})
	return "[max iterations reached]\n" + text, messages, Stats{Iterations: iteration, SkillsCalled: skillsCalled}, nil
}

func (o *Orchestrator) capReached(skill skills.Skill, counts map[string]int) bool {
	max := skill.Meta().MaxCallsPerTurn
	return max > 0 && counts[skill.Meta().Name] >= max
}
