package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Collection names. Agent memories and the retrieval knowledge base are
// deliberately separate.
const (
	MemoryCollection    = "agent_memory"
	KnowledgeCollection = "rag_data"
)

// Valid memory types.
const (
	TypeFact        = "fact"
	TypeObservation = "observation"
	TypePreference  = "preference"
	TypeSummary     = "summary"
)

// ValidType reports whether t is a storable memory category.
func ValidType(t string) bool {
	switch t {
	case TypeFact, TypeObservation, TypePreference, TypeSummary:
		return true
	}
	return false
}

// Entry is one stored memory with its metadata decoded.
type Entry struct {
	Content   string
	Type      string
	UserID    string
	Source    string
	Timestamp float64
}

// Store is the agent's long-term memory over a Chroma collection.
//
// Metadata per entry: user_id (scoping), type, source ("agent" or "user"),
// timestamp (unix seconds, for recency sort and age display).
type Store struct {
	chroma     *ChromaClient
	embedder   Embedder
	embedModel string
	collection string

	now func() time.Time
}

// NewStore creates a memory store over the given Chroma client and embedder.
func NewStore(chroma *ChromaClient, embedder Embedder, embedModel string) *Store {
	return &Store{
		chroma:     chroma,
		embedder:   embedder,
		embedModel: embedModel,
		collection: MemoryCollection,
		now:        time.Now,
	}
}

// Add stores one memory entry and returns its generated id.
func (s *Store) Add(ctx context.Context, content, memoryType, userID, source string) (string, error) {
	if !ValidType(memoryType) {
		return "", fmt.Errorf("invalid memory type %q", memoryType)
	}

	embedding, err := s.embedder.Embed(ctx, s.embedModel, content)
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}
	collectionID, err := s.chroma.GetOrCreateCollection(ctx, s.collection)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = s.chroma.Add(ctx, collectionID,
		[]string{id},
		[][]float64{embedding},
		[]string{content},
		[]map[string]any{{
			"user_id":   userID,
			"type":      memoryType,
			"source":    source,
			"timestamp": float64(s.now().UnixNano()) / float64(time.Second),
		}},
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Search runs a semantic search over one user's memories.
func (s *Store) Search(ctx context.Context, query, userID string, nResults int) ([]Entry, error) {
	embedding, err := s.embedder.Embed(ctx, s.embedModel, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	collectionID, err := s.chroma.GetOrCreateCollection(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	results, err := s.chroma.Query(ctx, collectionID, embedding, nResults, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	return toEntries(results), nil
}

// Recent returns the n newest memories for a user. Chroma has no
// order-by, so up to 50 entries are fetched and sorted here.
func (s *Store) Recent(ctx context.Context, userID string, n int) ([]Entry, error) {
	collectionID, err := s.chroma.GetOrCreateCollection(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	results, err := s.chroma.Get(ctx, collectionID, map[string]any{"user_id": userID}, 50)
	if err != nil {
		return nil, err
	}
	entries := toEntries(results)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func toEntries(results []QueryResult) []Entry {
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		e := Entry{Content: r.Document, Type: TypeFact}
		if t, ok := r.Metadata["type"].(string); ok && t != "" {
			e.Type = t
		}
		if u, ok := r.Metadata["user_id"].(string); ok {
			e.UserID = u
		}
		if src, ok := r.Metadata["source"].(string); ok {
			e.Source = src
		}
		if ts, ok := r.Metadata["timestamp"].(float64); ok {
			e.Timestamp = ts
		}
		entries = append(entries, e)
	}
	return entries
}
