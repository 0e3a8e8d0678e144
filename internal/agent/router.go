package agent

import "strings"

// RouterConfig names the models the router chooses between.
type RouterConfig struct {
	// DefaultModel answers everyday messages.
	DefaultModel string `yaml:"default_model"`
	// ReasoningModel handles analysis-flavored messages.
	ReasoningModel string `yaml:"reasoning_model"`
	// DeepModel is the largest model, selected only explicitly.
	DeepModel string `yaml:"deep_model"`

	// NumCtx is the context window for the default and reasoning models;
	// DeepNumCtx applies to the deep model.
	NumCtx     int `yaml:"num_ctx"`
	DeepNumCtx int `yaml:"deep_num_ctx"`
}

// reasoningKeywords trigger auto-routing to the reasoning model.
var reasoningKeywords = []string{
	"explain", "analyze", "plan", "code", "why", "compare",
	"debug", "reason", "think", "step by step", "how does", "what if",
}

// Route picks the model for a message: an explicit client override wins,
// the "deep" and "reasoning" aliases map to their configured models, and an
// empty request auto-routes on keywords.
func (c RouterConfig) Route(message, requested string) string {
	switch requested {
	case "deep":
		return c.DeepModel
	case "reasoning":
		return c.ReasoningModel
	case "":
	default:
		return requested
	}

	lower := strings.ToLower(message)
	for _, kw := range reasoningKeywords {
		if strings.Contains(lower, kw) {
			return c.ReasoningModel
		}
	}
	return c.DefaultModel
}

// ContextFor returns the num_ctx to use with the routed model.
func (c RouterConfig) ContextFor(model string) int {
	if model == c.DeepModel && c.DeepNumCtx > 0 {
		return c.DeepNumCtx
	}
	return c.NumCtx
}
