// Package websearch exposes live web search through the Tavily REST API.
//
// The API key is brokered from the environment at execution time and never
// enters model context. Result snippets are scrubbed before they re-enter
// the conversation.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/secrets"
	"github.com/aegis-agent/aegis/internal/skills"
)

const (
	tavilyURL       = "https://api.tavily.com/search"
	apiKeyEnv       = "TAVILY_API_KEY"
	maxResults      = 5
	snippetMaxChars = 1000
	maxQueryChars   = 500
)

var parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The web search query."
    }
  },
  "required": ["query"]
}`)

// Skill searches the web via the Tavily API.
type Skill struct {
	http    *http.Client
	baseURL string
}

// New creates the web_search skill.
func New() *Skill {
	return &Skill{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: tavilyURL,
	}
}

func (s *Skill) Meta() skills.Meta {
	return skills.Meta{
		Name: "web_search",
		Description: "Search the web for real-time information. " +
			"Call this tool when asked about: current events, breaking news, " +
			"sports scores or results, stock prices, weather, recently released " +
			"software or products, or any fact that may have changed since 2024. " +
			"Do not answer from training data for these topics — search instead.",
		Parameters:       parameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "web_search",
		RequiresApproval: false,
		MaxCallsPerTurn:  3,
	}
}

func (s *Skill) Validate(params map[string]any) error {
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
	return nil
}

type searchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// response is the skill's result shape: either an error message for the
// model or the parsed search results.
type response struct {
	err     string
	results []searchResult
}

func (s *Skill) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)

	apiKey, err := secrets.Get(apiKeyEnv)
	if err != nil {
		return &response{err: err.Error()}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":      apiKey,
		"query":        query,
		"search_depth": "basic",
		"max_results":  maxResults,
	})
	if err != nil {
		return &response{err: fmt.Sprintf("Web search error: %v", err)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return &response{err: fmt.Sprintf("Web search error: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &response{err: "Web search timed out."}, nil
		}
		return &response{err: fmt.Sprintf("Web search request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &response{err: fmt.Sprintf("Web search request failed: status %d", resp.StatusCode)}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &response{err: fmt.Sprintf("Web search error: %v", err)}, nil
	}
	var parsed struct {
		Results []searchResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &response{err: fmt.Sprintf("Web search error: %v", err)}, nil
	}
	return &response{results: parsed.Results}, nil
}

// Sanitize formats up to 5 results, scrubbing each title and snippet and
// capping every snippet individually so one verbose source cannot crowd out
// the rest.
func (s *Skill) Sanitize(result any) (string, error) {
	r, ok := result.(*response)
	if !ok {
		return "No search results.", nil
	}
	if r.err != "" {
		return "Web search unavailable: " + r.err, nil
	}
	if len(r.results) == 0 {
		return "No search results found.", nil
	}

	var snippets []string
	for i, item := range r.results {
		if i >= maxResults {
			break
		}
		title := skills.StripSuspicious(strings.TrimSpace(item.Title))
		content := skills.StripSuspicious(strings.TrimSpace(item.Content))

		snippet := content
		if title != "" {
			snippet = fmt.Sprintf("**%s**\n%s", title, content)
		}
		if utf8.RuneCountInString(snippet) > snippetMaxChars {
			snippet = string([]rune(snippet)[:snippetMaxChars]) + " [truncated]"
		}
		if strings.TrimSpace(snippet) != "" {
			snippets = append(snippets, snippet)
		}
	}

	if len(snippets) == 0 {
		return "No usable search results found.", nil
	}
	return strings.Join(snippets, "\n\n---\n\n"), nil
}
