package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-agent/aegis/internal/approval"
	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/trace"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusRateLimited   Status = "rate_limited"
	StatusInvalidParams Status = "invalid_params"
	StatusNotApproved   Status = "not_approved"
	StatusError         Status = "error"
	StatusSanitizeError Status = "sanitize_error"
)

// PreExecution reports whether the pipeline rejected the call before the
// skill ran. The orchestrator releases the per-turn slot for these, so a
// failed attempt does not consume the skill's budget.
func (s Status) PreExecution() bool {
	switch s {
	case StatusRateLimited, StatusInvalidParams, StatusNotApproved:
		return true
	}
	return false
}

// Runner executes one skill invocation through the full gate pipeline:
//
//  1. Rate-limit check against the skill's bucket
//  2. Parameter validation (JSON schema, then the skill's own checks)
//  3. Approval gate when required and not auto-approved
//  4. Timed execution with the caller identity injected
//  5. Output sanitization
//  6. One trace event with the terminal status
//
// Execute never returns an error: every failure mode produces a diagnostic
// string the model can read and act on.
type Runner struct {
	registry  *Registry
	policy    *policy.Engine
	approvals *approval.Manager
	recorder  *trace.Recorder
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewRunner wires the pipeline. metrics may be nil in tests.
func NewRunner(registry *Registry, pol *policy.Engine, approvals *approval.Manager, recorder *trace.Recorder, metrics *observability.Metrics) *Runner {
	return &Runner{
		registry:  registry,
		policy:    pol,
		approvals: approvals,
		recorder:  recorder,
		metrics:   metrics,
	}
}

// SetTracer enables spans around skill execution and approval waits.
func (r *Runner) SetTracer(tracer *observability.Tracer) {
	r.tracer = tracer
}

// runSkill executes the skill inside a span when a tracer is configured.
func (r *Runner) runSkill(ctx context.Context, skill Skill, name string, params map[string]any) (any, error) {
	if r.tracer == nil {
		return skill.Execute(ctx, params)
	}
	spanCtx, span := r.tracer.TraceSkillExecution(ctx, name)
	defer span.End()
	result, err := skill.Execute(spanCtx, params)
	if err != nil {
		r.tracer.RecordError(span, err)
	}
	return result, err
}

// waitApproval blocks on the approval decision, covered by a span.
func (r *Runner) waitApproval(ctx context.Context, id string) (string, error) {
	if r.tracer == nil {
		return r.approvals.Wait(ctx, id, 0)
	}
	spanCtx, span := r.tracer.TraceApprovalWait(ctx, id)
	defer span.End()
	return r.approvals.Wait(spanCtx, id, 0)
}

// Execute runs skill through the pipeline and returns the text that
// re-enters model context plus the terminal status.
func (r *Runner) Execute(ctx context.Context, skill Skill, params map[string]any, userID string, autoApprove bool) (string, Status) {
	meta := skill.Meta()
	name := meta.Name

	// 1. Rate limit.
	if !r.policy.CheckRateLimit(ctx, meta.RateLimitKey) {
		r.finish(ctx, name, params, StatusRateLimited, 0)
		return fmt.Sprintf("[%s] Rate limit reached — try again later.", name), StatusRateLimited
	}

	// 2. Validate: declared schema first, then the skill's own checks.
	if err := validateAgainstSchema(r.registry.Schema(name), params); err != nil {
		r.finish(ctx, name, params, StatusInvalidParams, 0)
		return fmt.Sprintf("[%s] Invalid parameters: %v", name, err), StatusInvalidParams
	}
	if err := skill.Validate(params); err != nil {
		r.finish(ctx, name, params, StatusInvalidParams, 0)
		return fmt.Sprintf("[%s] Invalid parameters: %v", name, err), StatusInvalidParams
	}

	// 3. Approval gate.
	if meta.RequiresApproval && !autoApprove {
		id, err := r.approvals.Create(ctx,
			"skill:"+name,
			string(policy.ZoneExternal),
			string(meta.RiskLevel),
			fmt.Sprintf("Execute skill '%s' for user %s", name, userID),
			name,
			"",
		)
		if err != nil {
			r.finish(ctx, name, params, StatusNotApproved, 0)
			return fmt.Sprintf("[%s] Approval error: %v", name, err), StatusNotApproved
		}
		resolution, err := r.waitApproval(ctx, id)
		if err != nil {
			r.finish(ctx, name, params, StatusNotApproved, 0)
			return fmt.Sprintf("[%s] Approval error: %v", name, err), StatusNotApproved
		}
		if resolution != approval.StatusApproved {
			r.finish(ctx, name, params, StatusNotApproved, 0)
			return fmt.Sprintf("[%s] Skill execution was not approved.", name), StatusNotApproved
		}
	}

	// 4. Execute with timing. The caller identity rides along under a
	// reserved key for skills that scope data per user.
	execParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		execParams[k] = v
	}
	execParams[UserIDParam] = userID

	start := time.Now()
	result, err := r.runSkill(ctx, skill, name, execParams)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		r.finish(ctx, name, params, StatusError, durationMs)
		return fmt.Sprintf("[%s] Execution error: %v", name, err), StatusError
	}

	// 5. Sanitize.
	text, err := skill.Sanitize(result)
	if err != nil {
		r.finish(ctx, name, params, StatusSanitizeError, durationMs)
		return fmt.Sprintf("[%s] Output sanitization error: %v", name, err), StatusSanitizeError
	}

	// 6. Trace.
	r.finish(ctx, name, params, StatusSuccess, durationMs)
	return text, StatusSuccess
}

// finish emits the single trace event and metric for one pipeline run.
func (r *Runner) finish(ctx context.Context, name string, params map[string]any, status Status, durationMs int64) {
	if r.recorder != nil {
		r.recorder.Skill(ctx, name, params, string(status), durationMs)
	}
	if r.metrics != nil {
		r.metrics.SkillExecutions.WithLabelValues(name, string(status)).Inc()
		r.metrics.SkillExecutionDuration.WithLabelValues(name).Observe(float64(durationMs) / 1000)
	}
}
