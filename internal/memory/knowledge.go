package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Chunking parameters for knowledge-base ingestion. Overlap keeps a fact
// that straddles a boundary retrievable from either side.
const (
	ChunkSize    = 800
	ChunkOverlap = 100
)

// Chunk splits text into overlapping fixed-size pieces.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// Knowledge is the user-facing retrieval store (rag_data collection),
// separate from agent memories.
type Knowledge struct {
	chroma     *ChromaClient
	embedder   Embedder
	embedModel string
	collection string
}

// NewKnowledge creates a knowledge base over the given Chroma client and
// embedder.
func NewKnowledge(chroma *ChromaClient, embedder Embedder, embedModel string) *Knowledge {
	return &Knowledge{
		chroma:     chroma,
		embedder:   embedder,
		embedModel: embedModel,
		collection: KnowledgeCollection,
	}
}

// Ingest chunks text and stores each chunk with a source label. Returns the
// number of chunks stored.
func (k *Knowledge) Ingest(ctx context.Context, text, source string) (int, error) {
	chunks := Chunk(text, ChunkSize, ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float64, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		embedding, err := k.embedder.Embed(ctx, k.embedModel, chunk)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		ids[i] = uuid.NewString()
		embeddings[i] = embedding
		metadatas[i] = map[string]any{"source": source}
	}

	collectionID, err := k.chroma.GetOrCreateCollection(ctx, k.collection)
	if err != nil {
		return 0, err
	}
	if err := k.chroma.Add(ctx, collectionID, ids, embeddings, chunks, metadatas); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search returns the nResults documents most similar to query.
func (k *Knowledge) Search(ctx context.Context, query string, nResults int) ([]string, error) {
	embedding, err := k.embedder.Embed(ctx, k.embedModel, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	collectionID, err := k.chroma.GetOrCreateCollection(ctx, k.collection)
	if err != nil {
		return nil, err
	}
	results, err := k.chroma.Query(ctx, collectionID, embedding, nResults, nil)
	if err != nil {
		return nil, err
	}
	docs := make([]string, 0, len(results))
	for _, r := range results {
		docs = append(docs, r.Document)
	}
	return docs, nil
}
