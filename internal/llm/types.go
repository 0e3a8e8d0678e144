// Package llm defines the chat client contract for the local model runner
// and provides two implementations: the native Ollama API and any
// OpenAI-compatible endpoint.
//
// The runtime treats the model as an opaque chat endpoint with tool
// calling; everything above this package works against the Client
// interface.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Message roles used in the conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation message.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-emitted request to invoke a skill.
type ToolCall struct {
	Function FunctionCall `json:"function"`
}

// FunctionCall names the skill and carries its arguments. Arguments may be
// a JSON object or a JSON-encoded string depending on the model; callers
// must handle both.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool is a skill schema advertised to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes one callable skill.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is one model call.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []Tool
	// NumCtx sets the model's context window in tokens. Zero leaves the
	// runner's default in place.
	NumCtx int
}

// ChatResponse is the model's reply plus runner-side metrics.
type ChatResponse struct {
	Message         Message
	Model           string
	PromptEvalCount int
	EvalCount       int
	TotalDuration   time.Duration
}

// Client is the chat endpoint contract.
type Client interface {
	// Chat performs one non-streaming chat completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
