// Package rag implements the knowledge-base skills: rag_ingest chunks and
// stores text, rag_search retrieves the most relevant documents.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aegis-agent/aegis/internal/memory"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/skills"
)

const (
	maxIngestChars = 50_000
	maxSearchChars = 1000
	searchNResults = 3
	maxOutputChars = 2000
)

type ingestParams struct {
	Text   string `json:"text" jsonschema:"description=The text content to add to the knowledge base."`
	Source string `json:"source,omitempty" jsonschema:"description=Optional label for where this content came from (a note title or URL)."`
}

type searchParams struct {
	Query string `json:"query" jsonschema:"description=The search query to find relevant documents."`
}

var (
	ingestParameters = skills.SchemaFor(ingestParams{})
	searchParameters = skills.SchemaFor(searchParams{})
)

// IngestSkill adds text to the local knowledge base.
type IngestSkill struct {
	knowledge *memory.Knowledge
}

// NewIngest creates the rag_ingest skill.
func NewIngest(k *memory.Knowledge) *IngestSkill {
	return &IngestSkill{knowledge: k}
}

func (s *IngestSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "rag_ingest",
		Description: "Add text content to the local knowledge base so it can be " +
			"retrieved later via rag_search. Use this to store facts, documents, " +
			"or notes that should persist across conversations.",
		Parameters:       ingestParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "rag_ingest",
		RequiresApproval: false,
		MaxCallsPerTurn:  5,
	}
}

func (s *IngestSkill) Validate(params map[string]any) error {
	text, ok := params["text"].(string)
	if !ok {
		return errors.New("parameter 'text' must be a string")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("parameter 'text' must not be empty")
	}
	if utf8.RuneCountInString(text) > maxIngestChars {
		return fmt.Errorf("parameter 'text' must be under %d characters", maxIngestChars)
	}
	if raw, present := params["source"]; present {
		if _, ok := raw.(string); !ok {
			return errors.New("parameter 'source' must be a string")
		}
	}
	return nil
}

// ingestResult is the tagged result of one ingest.
type ingestResult struct {
	err         string
	chunksAdded int
	source      string
}

func (s *IngestSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	source, _ := params["source"].(string)
	if source == "" {
		source = "agent"
	}

	n, err := s.knowledge.Ingest(ctx, text, source)
	if err != nil {
		return &ingestResult{err: err.Error()}, nil
	}
	return &ingestResult{chunksAdded: n, source: source}, nil
}

func (s *IngestSkill) Sanitize(result any) (string, error) {
	r, ok := result.(*ingestResult)
	if !ok {
		return fmt.Sprint(result), nil
	}
	if r.err != "" {
		return "[rag_ingest] Failed to store in knowledge base: " + r.err, nil
	}
	return fmt.Sprintf("Added %d chunk(s) to knowledge base (source: %s).", r.chunksAdded, r.source), nil
}

// SearchSkill queries the local knowledge base.
type SearchSkill struct {
	knowledge *memory.Knowledge
}

// NewSearch creates the rag_search skill.
func NewSearch(k *memory.Knowledge) *SearchSkill {
	return &SearchSkill{knowledge: k}
}

func (s *SearchSkill) Meta() skills.Meta {
	return skills.Meta{
		Name: "rag_search",
		Description: "Search the local knowledge base for documents relevant to a " +
			"query. Use this when you need to look up information from uploaded " +
			"or indexed documents.",
		Parameters:       searchParameters,
		RiskLevel:        policy.RiskLow,
		RateLimitKey:     "rag_search",
		RequiresApproval: false,
		MaxCallsPerTurn:  5,
	}
}

func (s *SearchSkill) Validate(params map[string]any) error {
	query, ok := params["query"].(string)
	if !ok {
		return errors.New("parameter 'query' must be a string")
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("parameter 'query' must not be empty")
	}
	if utf8.RuneCountInString(query) > maxSearchChars {
		return fmt.Errorf("parameter 'query' must be under %d characters", maxSearchChars)
	}
	return nil
}

func (s *SearchSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	docs, err := s.knowledge.Search(ctx, query, searchNResults)
	if err != nil {
		// A missing or empty knowledge base is not an error worth
		// surfacing to the model; it just has no documents.
		return []string(nil), nil
	}
	return docs, nil
}

func (s *SearchSkill) Sanitize(result any) (string, error) {
	docs, ok := result.([]string)
	if !ok || len(docs) == 0 {
		return "No relevant documents found.", nil
	}
	joined := strings.Join(docs, "\n\n")
	if utf8.RuneCountInString(joined) > maxOutputChars {
		return string([]rune(joined)[:maxOutputChars]) + "\n[truncated]", nil
	}
	return joined, nil
}
