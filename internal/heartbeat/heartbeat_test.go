package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aegis-agent/aegis/internal/store"
	"github.com/aegis-agent/aegis/internal/trace"
)

type fakeVersions struct {
	version string
	err     error
}

func (f *fakeVersions) Version(ctx context.Context) (string, error) {
	return f.version, f.err
}

func testHeartbeat(t *testing.T) (*Heartbeat, *store.MemoryStore, *fakeVersions) {
	t.Helper()
	st := store.NewMemoryStore()
	versions := &fakeVersions{version: "0.5.0"}
	h := New(st, trace.NewRecorder(nil, st), nil, versions, "qwen3.5:35b-a3b", time.Minute)
	return h, st, versions
}

func TestTickEmitsTraceEvent(t *testing.T) {
	h, st, _ := testHeartbeat(t)
	h.Tick(context.Background())

	lines, err := st.LRange(context.Background(), "logs:heartbeat", 0, -1)
	if err != nil || len(lines) == 0 {
		t.Fatalf("no heartbeat events: %v", err)
	}
	var event map[string]any
	json.Unmarshal([]byte(lines[len(lines)-1]), &event)
	if event["status"] != "tick" {
		t.Fatalf("status = %v", event["status"])
	}
}

func TestFirstTickStoresVersionWithoutNotifying(t *testing.T) {
	h, st, _ := testHeartbeat(t)
	ctx := context.Background()
	h.Tick(ctx)

	v, err := st.Get(ctx, versionKey)
	if err != nil || v != "0.5.0" {
		t.Fatalf("stored version = %q, %v", v, err)
	}
	if len(st.Published) != 0 {
		t.Fatalf("unexpected notifications: %v", st.Published)
	}
}

func TestUpgradeNotifies(t *testing.T) {
	h, st, versions := testHeartbeat(t)
	ctx := context.Background()

	h.Tick(ctx)
	versions.version = "0.6.0"
	h.Tick(ctx)

	if v, _ := st.Get(ctx, versionKey); v != "0.6.0" {
		t.Fatalf("stored version = %q", v)
	}
	if len(st.Published) != 1 {
		t.Fatalf("published = %d messages", len(st.Published))
	}
	msg := st.Published[0]
	if msg.Channel != NotificationChannel {
		t.Fatalf("channel = %q", msg.Channel)
	}
	var payload map[string]string
	json.Unmarshal([]byte(msg.Payload), &payload)
	if !strings.Contains(payload["text"], "0.5.0") || !strings.Contains(payload["text"], "0.6.0") {
		t.Fatalf("notification text = %q", payload["text"])
	}
	if !strings.Contains(payload["text"], "qwen3.5:35b-a3b") {
		t.Fatalf("watch model missing: %q", payload["text"])
	}
}

func TestUnchangedVersionStaysQuiet(t *testing.T) {
	h, st, _ := testHeartbeat(t)
	ctx := context.Background()
	h.Tick(ctx)
	h.Tick(ctx)
	h.Tick(ctx)
	if len(st.Published) != 0 {
		t.Fatalf("published = %d messages", len(st.Published))
	}
}

func TestUnreachableRunnerSkipped(t *testing.T) {
	h, st, versions := testHeartbeat(t)
	ctx := context.Background()
	versions.err = errors.New("connection refused")

	h.Tick(ctx)

	if _, err := st.Get(ctx, versionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("version should not be stored: %v", err)
	}
	// Only the tick event, no error event.
	lines, _ := st.LRange(ctx, "logs:heartbeat", 0, -1)
	if len(lines) != 1 {
		t.Fatalf("events = %d, want 1", len(lines))
	}
}
