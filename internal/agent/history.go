package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/store"
)

// historyKeyPrefix scopes one conversation per user.
const historyKeyPrefix = "chat:"

// EstimateTokens is the rough chars-to-tokens heuristic used for history
// budgeting. Precision doesn't matter; the budget only needs to keep the
// prompt comfortably inside the model's window.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// History persists per-user conversation history in the durable store.
// Only plain user/assistant turns are stored; tool turns from the loop are
// transient grounding and never land here.
type History struct {
	store store.Store
}

// NewHistory creates a history store.
func NewHistory(st store.Store) *History {
	return &History{store: st}
}

// Load returns the stored conversation for userID, empty when absent or
// unreadable. Corrupt history is discarded rather than failing the chat.
func (h *History) Load(ctx context.Context, userID string) []llm.Message {
	raw, err := h.store.Get(ctx, historyKeyPrefix+userID)
	if err != nil {
		return nil
	}
	var messages []llm.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil
	}
	return messages
}

// Save writes the full conversation for userID.
func (h *History) Save(ctx context.Context, userID string, messages []llm.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return h.store.Set(ctx, historyKeyPrefix+userID, string(raw), 0)
}

// Exists reports whether userID has stored history.
func (h *History) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := h.store.Get(ctx, historyKeyPrefix+userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Truncate drops messages from the front until the estimated token total
// fits budget, always keeping at least the final message.
func Truncate(messages []llm.Message, budget int) []llm.Message {
	truncated := append([]llm.Message(nil), messages...)
	for len(truncated) > 1 && totalTokens(truncated) > budget {
		truncated = truncated[1:]
	}
	return truncated
}

func totalTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
