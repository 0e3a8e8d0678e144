package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m := NewManager(st, nil, 5*time.Minute)
	m.poll = time.Millisecond
	return m, st
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "file_write", "identity", "medium",
		"Write to SOUL.md", "/agent/SOUL.md", "new content")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("empty approval id")
	}

	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != id || got.Action != "file_write" || got.Zone != "identity" ||
		got.RiskLevel != "medium" || got.Description != "Write to SOUL.md" ||
		got.Target != "/agent/SOUL.md" || got.ProposedContent != "new content" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.CreatedAt == 0 {
		t.Error("created_at not set")
	}
}

func TestCreatePublishesNotification(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "http_post", "external", "medium", "POST to api", "https://example.com", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(st.Published) != 1 {
		t.Fatalf("got %d published messages, want 1", len(st.Published))
	}
	msg := st.Published[0]
	if msg.Channel != "approvals:pending" {
		t.Errorf("channel = %q, want approvals:pending", msg.Channel)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["approval_id"] != id || payload["action"] != "http_post" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if _, ok := payload["proposed_content"]; ok {
		t.Error("empty proposed_content should be omitted")
	}
}

// publishFailStore drops every publish.
type publishFailStore struct{ *store.MemoryStore }

func (p publishFailStore) Publish(ctx context.Context, channel, payload string) error {
	return errors.New("pubsub down")
}

func TestCreateSurvivesPublishFailure(t *testing.T) {
	m := NewManager(publishFailStore{store.NewMemoryStore()}, nil, time.Minute)
	ctx := context.Background()

	id, err := m.Create(ctx, "file_write", "sandbox", "low", "d", "t", "")
	if err != nil {
		t.Fatalf("Create returned publish error: %v", err)
	}
	if _, err := m.Get(ctx, id); err != nil {
		t.Errorf("record missing after publish failure: %v", err)
	}
}

func TestResolveWriteOnce(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	id, _ := m.Create(ctx, "file_write", "identity", "medium", "d", "t", "")

	ok, err := m.Resolve(ctx, id, StatusApproved, "operator")
	if err != nil || !ok {
		t.Fatalf("first resolve: ok=%v err=%v", ok, err)
	}

	ok, err = m.Resolve(ctx, id, StatusDenied, "operator")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if ok {
		t.Error("second resolve succeeded on already-resolved record")
	}

	got, _ := m.Get(ctx, id)
	if got.Status != StatusApproved || got.ResolvedBy != "operator" {
		t.Errorf("record = %+v, want approved by operator", got)
	}
	if got.ResolvedAt == 0 {
		t.Error("resolved_at not set")
	}
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	id, _ := m.Create(ctx, "a", "z", "low", "d", "t", "")

	const resolvers = 20
	var wg sync.WaitGroup
	wins := make(chan bool, resolvers)
	for i := 0; i < resolvers; i++ {
		status := StatusApproved
		if i%2 == 1 {
			status = StatusDenied
		}
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			ok, _ := m.Resolve(ctx, id, status, "racer")
			wins <- ok
		}(status)
	}
	wg.Wait()
	close(wins)

	total := 0
	for ok := range wins {
		if ok {
			total++
		}
	}
	if total != 1 {
		t.Errorf("%d resolvers won, want exactly 1", total)
	}
}

func TestResolveUnknownID(t *testing.T) {
	m, _ := testManager(t)
	ok, err := m.Resolve(context.Background(), "no-such-id", StatusApproved, "x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Error("resolved a record that does not exist")
	}
}

func TestResolveRejectsInvalidStatus(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	id, _ := m.Create(ctx, "a", "z", "low", "d", "t", "")

	if _, err := m.Resolve(ctx, id, "pending", "x"); err == nil {
		t.Error("Resolve accepted status pending")
	}
	if _, err := m.Resolve(ctx, id, "maybe", "x"); err == nil {
		t.Error("Resolve accepted unknown status")
	}
}

func TestWaitReturnsResolution(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	id, _ := m.Create(ctx, "a", "z", "low", "d", "t", "")

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = m.Resolve(ctx, id, StatusDenied, "operator")
	}()

	status, err := m.Wait(ctx, id, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != StatusDenied {
		t.Errorf("status = %q, want denied", status)
	}
}

func TestWaitTimesOutAndWritesResolution(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	id, _ := m.Create(ctx, "a", "z", "low", "d", "t", "")

	status, err := m.Wait(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != StatusTimeout {
		t.Errorf("status = %q, want timeout", status)
	}

	got, _ := m.Get(ctx, id)
	if got.Status != StatusTimeout || got.ResolvedBy != "system:timeout" {
		t.Errorf("record after timeout = %+v", got)
	}

	// The timeout is itself a resolution: nothing can re-resolve.
	ok, _ := m.Resolve(ctx, id, StatusApproved, "late")
	if ok {
		t.Error("resolve succeeded after timeout resolution")
	}
}

func TestWaitMissingRecordIsTimeout(t *testing.T) {
	m, _ := testManager(t)
	status, err := m.Wait(context.Background(), "vanished", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != StatusTimeout {
		t.Errorf("status = %q, want timeout", status)
	}
}

func TestWaitCancellationLeavesPending(t *testing.T) {
	m, _ := testManager(t)
	id, _ := m.Create(context.Background(), "a", "z", "low", "d", "t", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Wait(ctx, id, time.Minute)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Wait after cancel returned %v, want context.Canceled", err)
	}

	// The record stays pending for a late resolver.
	got, _ := m.Get(context.Background(), id)
	if got.Status != StatusPending {
		t.Errorf("status after cancellation = %q, want pending", got.Status)
	}
}

func TestListPending(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	id1, _ := m.Create(ctx, "a", "z", "low", "d", "t", "")
	id2, _ := m.Create(ctx, "b", "z", "low", "d", "t", "")
	_, _ = m.Resolve(ctx, id1, StatusApproved, "op")

	pending, err := m.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Errorf("pending = %+v, want just %s", pending, id2)
	}
}

// Shared across metrics tests: the Prometheus default registry rejects
// duplicate registration, so NewMetrics can run only once per test binary.
var testMetrics = observability.NewMetrics()

func TestMetricsTrackLifecycle(t *testing.T) {
	m, _ := testManager(t)
	m.SetMetrics(testMetrics)
	ctx := context.Background()

	base := testutil.ToFloat64(testMetrics.PendingApprovals)

	id1, err := m.Create(ctx, "a", "z", "low", "d", "t", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id2, err := m.Create(ctx, "b", "z", "low", "d", "t", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := testutil.ToFloat64(testMetrics.PendingApprovals) - base; got != 2 {
		t.Errorf("pending gauge delta after creates = %v, want 2", got)
	}

	if ok, err := m.Resolve(ctx, id1, StatusApproved, "op"); err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if got := testutil.ToFloat64(testMetrics.PendingApprovals) - base; got != 1 {
		t.Errorf("pending gauge delta after resolve = %v, want 1", got)
	}

	// A losing second resolve must not move the gauge.
	if ok, _ := m.Resolve(ctx, id1, StatusDenied, "op"); ok {
		t.Fatal("second resolve won")
	}
	if got := testutil.ToFloat64(testMetrics.PendingApprovals) - base; got != 1 {
		t.Errorf("pending gauge delta after losing resolve = %v, want 1", got)
	}

	// Timeout resolution decrements too.
	status, err := m.Wait(ctx, id2, time.Millisecond)
	if err != nil || status != StatusTimeout {
		t.Fatalf("Wait = %q, %v", status, err)
	}
	if got := testutil.ToFloat64(testMetrics.PendingApprovals) - base; got != 0 {
		t.Errorf("pending gauge delta after timeout = %v, want 0", got)
	}
}
