package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/store"
)

func TestHistoryRoundTrip(t *testing.T) {
	h := NewHistory(store.NewMemoryStore())
	ctx := context.Background()

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}
	if err := h.Save(ctx, "alice", messages); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := h.Load(ctx, "alice")
	if len(got) != 2 || got[0].Content != "hi" || got[1].Content != "hello" {
		t.Errorf("Load = %+v", got)
	}

	exists, err := h.Exists(ctx, "alice")
	if err != nil || !exists {
		t.Errorf("Exists(alice) = %v, %v", exists, err)
	}
	exists, err = h.Exists(ctx, "bob")
	if err != nil || exists {
		t.Errorf("Exists(bob) = %v, %v", exists, err)
	}
}

func TestHistoryLoadMissing(t *testing.T) {
	h := NewHistory(store.NewMemoryStore())
	if got := h.Load(context.Background(), "nobody"); got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestHistoryLoadCorrupt(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.Set(ctx, "chat:alice", "{not json", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h := NewHistory(st)
	if got := h.Load(ctx, "alice"); got != nil {
		t.Errorf("corrupt history loaded as %+v, want nil", got)
	}
}

func TestHistoryUsersAreIsolated(t *testing.T) {
	h := NewHistory(store.NewMemoryStore())
	ctx := context.Background()
	if err := h.Save(ctx, "alice", []llm.Message{{Role: llm.RoleUser, Content: "alice says"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := h.Load(ctx, "bob"); got != nil {
		t.Errorf("bob sees alice's history: %+v", got)
	}
}

func TestTruncate(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: strings.Repeat("a", 400)},
		{Role: llm.RoleAssistant, Content: strings.Repeat("b", 400)},
		{Role: llm.RoleUser, Content: strings.Repeat("c", 400)},
	}

	t.Run("within budget keeps all", func(t *testing.T) {
		got := Truncate(messages, 1000)
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})

	t.Run("drops from the front", func(t *testing.T) {
		got := Truncate(messages, 200)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if !strings.HasPrefix(got[0].Content, "c") {
			t.Errorf("kept message = %q..., want the newest", got[0].Content[:1])
		}
	})

	t.Run("always keeps the last message", func(t *testing.T) {
		got := Truncate(messages, 0)
		if len(got) != 1 || !strings.HasPrefix(got[0].Content, "c") {
			t.Errorf("got %d messages", len(got))
		}
	})

	t.Run("input is not mutated", func(t *testing.T) {
		_ = Truncate(messages, 200)
		if len(messages) != 3 {
			t.Errorf("input shrank to %d", len(messages))
		}
	})
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("EstimateTokens = %d, want 100", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
}
