// Package memories implements the remember and recall skills over the
// long-term memory store. Content is screened for prompt injection before
// storage: a poisoned memory would fire on every future recall, so it is
// rejected outright rather than cleaned.
package memories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aegis-agent/aegis/internal/memory"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

const maxContentChars = 1000

var rememberParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {
      "type": "string",
      "description": "The fact or observation to remember (max 1000 chars)."
    },
    "type": {
      "type": "string",
      "enum": ["fact", "observation", "preference"],
      "description": "Category of memory: fact, observation, or preference."
    }
  },
  "required": ["content"]
}`)

// RememberSkill stores a fact, observation, or preference to long-term
// memory.
type RememberSkill struct {
	store *memory.Store
}

// NewRemember creates the remember skill.
func NewRemember(store *memory.Store) *RememberSkill {
	return &RememberSkill{store: store}
}

func (s *RememberSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "remember",
		Description: "Store a fact, observation, or preference to long-term memory. " +
			"Use this to remember important details about the user or conversation " +
			"that should persist across sessions.",
		Parameters:       rememberParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "remember",
		RequiresApproval: false,
		MaxCallsPerTurn:  5,
	}
}

func (s *RememberSkill) Validate(params map[string]any) error {
	content, ok := params["content"].(string)
	if !ok {
		return errors.New("parameter 'content' must be a string")
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("parameter 'content' must not be empty")
	}
	if utf8.RuneCountInString(content) > maxContentChars {
		return fmt.Errorf("parameter 'content' must be under %d characters", maxContentChars)
	}

	if raw, present := params["type"]; present {
		memoryType, ok := raw.(string)
		if !ok || (memoryType != memory.TypeFact && memoryType != memory.TypeObservation && memoryType != memory.TypePreference) {
			return errors.New("parameter 'type' must be one of: fact, observation, preference")
		}
	}

	if _, err := skills.CleanForMemory(content); err != nil {
		return err
	}
	return nil
}

// rememberResult is the tagged result of one store operation.
type rememberResult struct {
	err        string
	memoryType string
	content    string
}

func (s *RememberSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID, _ := params[skills.UserIDParam].(string)
	if userID == "" {
		userID = "default"
	}
	content, _ := params["content"].(string)
	memoryType, _ := params["type"].(string)
	if memoryType == "" {
		memoryType = memory.TypeFact
	}

	cleaned, err := skills.CleanForMemory(content)
	if err != nil {
		return &rememberResult{err: err.Error()}, nil
	}

	if _, err := s.store.Add(ctx, cleaned, memoryType, userID, "agent"); err != nil {
		return &rememberResult{err: err.Error()}, nil
	}
	return &rememberResult{memoryType: memoryType, content: cleaned}, nil
}

func (s *RememberSkill) Sanitize(result any) (string, error) {
	r, ok := result.(*rememberResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[remember] " + r.err, nil
	}
	preview := r.content
	if utf8.RuneCountInString(preview) > 100 {
		preview = string([]rune(preview)[:100])
	}
	return fmt.Sprintf("Stored %s: %s", r.memoryType, preview), nil
}
