package memories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aegis-agent/aegis/internal/memory"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

const maxQueryChars = 500

var recallParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What to search for in memory (max 500 chars)."
    },
    "n_results": {
      "type": "integer",
      "description": "Number of results to return (1-10, default 5)."
    }
  },
  "required": ["query"]
}`)

// FormatAge renders elapsed seconds as a compact human-readable age.
func FormatAge(d time.Duration) string {
	seconds := d.Seconds()
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm", int(seconds/60))
	case seconds < 86400:
		return fmt.Sprintf("%dh", int(seconds/3600))
	case seconds < 7*86400:
		return fmt.Sprintf("%dd", int(seconds/86400))
	case seconds < 4.3*7*86400:
		return fmt.Sprintf("%dw", int(seconds/(7*86400)))
	default:
		return fmt.Sprintf("%dmo", int(seconds/(30*86400)))
	}
}

// RecallSkill searches long-term memory for stored facts, observations, or
// preferences.
type RecallSkill struct {
	store *memory.Store

	// now is swappable for tests.
	now func() time.Time
}

// NewRecall creates the recall skill.
func NewRecall(store *memory.Store) *RecallSkill {
	return &RecallSkill{store: store, now: time.Now}
}

func (s *RecallSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "recall",
		Description: "Search long-term memory for stored facts, observations, or preferences. " +
			"Use this to retrieve information remembered from previous conversations.",
		Parameters:       recallParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "recall",
		RequiresApproval: false,
		MaxCallsPerTurn:  5,
	}
}

func (s *RecallSkill) Validate(params map[string]any) error {
	query, ok := params["query"].(string)
	if !ok {
		return errors.New("parameter 'query' must be a string")
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("parameter 'query' must not be empty")
	}
	if utf8.RuneCountInString(query) > maxQueryChars {
		return fmt.Errorf("parameter 'query' must be under %d characters", maxQueryChars)
	}

	if raw, present := params["n_results"]; present {
		n, ok := asInt(raw)
		if !ok {
			return errors.New("parameter 'n_results' must be an integer")
		}
		if n < 1 || n > 10 {
			return errors.New("parameter 'n_results' must be between 1 and 10")
		}
	}
	return nil
}

// asInt accepts the integer shapes JSON decoding produces.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// recallHit is one formatted memory match.
type recallHit struct {
	memoryType string
	age        string
	content    string
}

// recallResult is the tagged result of one search.
type recallResult struct {
	err  string
	hits []recallHit
}

func (s *RecallSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID, _ := params[skills.UserIDParam].(string)
	if userID == "" {
		userID = "default"
	}
	query, _ := params["query"].(string)
	nResults := 5
	if raw, present := params["n_results"]; present {
		if n, ok := asInt(raw); ok {
			nResults = n
		}
	}

	entries, err := s.store.Search(ctx, query, userID, nResults)
	if err != nil {
		return &recallResult{err: err.Error()}, nil
	}

	now := s.now()
	hits := make([]recallHit, 0, len(entries))
	for _, e := range entries {
		age := "just now"
		if e.Timestamp > 0 {
			age = FormatAge(now.Sub(time.Unix(0, int64(e.Timestamp*float64(time.Second)))))
		}
		hits = append(hits, recallHit{memoryType: e.Type, age: age, content: e.Content})
	}
	return &recallResult{hits: hits}, nil
}

func (s *RecallSkill) Sanitize(result any) (string, error) {
	r, ok := result.(*recallResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[recall] " + r.err, nil
	}
	if len(r.hits) == 0 {
		return "No memories found.", nil
	}
	lines := make([]string, 0, len(r.hits))
	for i, hit := range r.hits {
		lines = append(lines, fmt.Sprintf("%d. [%s, %s] %s", i+1, hit.memoryType, hit.age, hit.content))
	}
	return strings.Join(lines, "\n"), nil
}
