// Package skills defines the skill contract, the registry, and the
// policy-gated execution pipeline.
//
// A skill is one named side-effectful capability exposed to the model. The
// set is registered at startup and immutable afterwards; every invocation
// runs through the full pipeline in Runner.Execute.
package skills

import (
	"context"
	"encoding/json"

	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/policy"
)

// UserIDParam is the reserved parameter key carrying the calling user's
// identity into Execute. It is injected after validation so it never
// interferes with schema checks, and skills that scope data per user
// (remember, recall) read it back out.
const UserIDParam = "_user_id"

// Meta describes one skill to the registry, the policy pipeline, and the
// model.
type Meta struct {
	// Name uniquely identifies the skill; it is the tool name the model
	// calls.
	Name string

	// Description is the natural-language hint the model sees.
	Description string

	// Parameters is the JSON schema of accepted arguments.
	Parameters json.RawMessage

	// RiskLevel grades the skill for approval prompts and traces.
	RiskLevel policy.RiskLevel

	// RateLimitKey selects the rate-limit bucket in the policy document.
	RateLimitKey string

	// RequiresApproval gates every execution behind the approval manager
	// unless the request opted into auto-approve.
	RequiresApproval bool

	// MaxCallsPerTurn caps executions of this skill within one tool loop.
	MaxCallsPerTurn int
}

// Skill is the capability contract. Implementations must be safe for
// concurrent use; the same instance serves all requests.
type Skill interface {
	// Meta returns the skill's static metadata.
	Meta() Meta

	// Validate checks params beyond what the JSON schema expresses.
	// A nil return means the params are acceptable.
	Validate(params map[string]any) error

	// Execute runs the skill. Called only after all policy checks pass.
	Execute(ctx context.Context, params map[string]any) (any, error)

	// Sanitize stringifies and cleans the result before it re-enters
	// model context. External content is treated as adversarial.
	Sanitize(result any) (string, error)
}

// LLMTool converts the skill metadata to the model's tool-calling format.
func LLMTool(s Skill) llm.Tool {
	meta := s.Meta()
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  meta.Parameters,
		},
	}
}
