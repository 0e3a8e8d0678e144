// Package memory provides long-term storage backed by a Chroma vector
// database: the agent's own memories in one collection and the user-facing
// knowledge base in another, so agent memories never pollute retrieval
// results.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder produces the embedding vector for a text. Documents and queries
// must go through the same embedder or similarity scores are meaningless.
type Embedder interface {
	Embed(ctx context.Context, model, prompt string) ([]float64, error)
}

// ChromaClient is a minimal client for Chroma's v1 REST API. Safe for
// concurrent use.
type ChromaClient struct {
	baseURL string
	http    *http.Client
}

// NewChromaClient creates a client for the Chroma server at baseURL
// (e.g. "http://chroma-rag:8000").
func NewChromaClient(baseURL string) *ChromaClient {
	return &ChromaClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// QueryResult is one matched document with its metadata.
type QueryResult struct {
	Document string
	Metadata map[string]any
}

func (c *ChromaClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chroma: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chroma: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chroma: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("chroma: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("chroma: %s returned status %d: %s", path, resp.StatusCode, truncateBody(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("chroma: decode response: %w", err)
		}
	}
	return nil
}

func truncateBody(raw []byte) string {
	const max = 200
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

// GetOrCreateCollection resolves a collection name to its id, creating the
// collection when absent.
func (c *ChromaClient) GetOrCreateCollection(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/api/v1/collections", map[string]any{
		"name":          name,
		"get_or_create": true,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("chroma: collection %q resolved to empty id", name)
	}
	return out.ID, nil
}

// Add stores documents with their embeddings and metadata in the collection.
func (c *ChromaClient) Add(ctx context.Context, collectionID string, ids []string, embeddings [][]float64, documents []string, metadatas []map[string]any) error {
	return c.post(ctx, "/api/v1/collections/"+collectionID+"/add", map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}, nil)
}

// Query runs a nearest-neighbor search. where may be nil for an unfiltered
// search.
func (c *ChromaClient) Query(ctx context.Context, collectionID string, embedding []float64, nResults int, where map[string]any) ([]QueryResult, error) {
	body := map[string]any{
		"query_embeddings": [][]float64{embedding},
		"n_results":        nResults,
		"include":          []string{"documents", "metadatas"},
	}
	if len(where) > 0 {
		body["where"] = where
	}

	var out struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	if err := c.post(ctx, "/api/v1/collections/"+collectionID+"/query", body, &out); err != nil {
		return nil, err
	}
	if len(out.Documents) == 0 {
		return nil, nil
	}
	return zipResults(out.Documents[0], firstOrNil(out.Metadatas)), nil
}

// Get fetches documents by metadata filter without a similarity query.
func (c *ChromaClient) Get(ctx context.Context, collectionID string, where map[string]any, limit int) ([]QueryResult, error) {
	body := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if len(where) > 0 {
		body["where"] = where
	}
	if limit > 0 {
		body["limit"] = limit
	}

	var out struct {
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	if err := c.post(ctx, "/api/v1/collections/"+collectionID+"/get", body, &out); err != nil {
		return nil, err
	}
	return zipResults(out.Documents, out.Metadatas), nil
}

func firstOrNil(m [][]map[string]any) []map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m[0]
}

func zipResults(documents []string, metadatas []map[string]any) []QueryResult {
	results := make([]QueryResult, 0, len(documents))
	for i, doc := range documents {
		r := QueryResult{Document: doc}
		if i < len(metadatas) {
			r.Metadata = metadatas[i]
		}
		results = append(results, r)
	}
	return results
}
