// Package approval implements the human-in-the-loop approval gate.
//
// Flow:
//  1. The policy engine decides an action needs approval.
//  2. Manager.Create stores a hash record in the store and publishes a
//     notification on the approvals:pending channel.
//  3. The skill executor blocks in Manager.Wait, polling the record.
//  4. An out-of-band caller (operator UI, messaging bridge) resolves the
//     record through the authenticated HTTP surface.
//  5. Wait unblocks with the decision, or times out and auto-writes a
//     timeout resolution.
//
// Correctness never depends on pub/sub delivery: waiters poll the durable
// record, the channel only lowers notification latency for subscribers.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/store"
)

// Status values of an approval record. Pending is the only non-terminal
// state; every transition out of it is write-once.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusTimeout  = "timeout"
)

const (
	keyPrefix = "approval:"
	channel   = "approvals:pending"

	// pollInterval paces the Wait loop. Resolution latency is human-scale,
	// so half a second is plenty.
	pollInterval = 500 * time.Millisecond
)

// Request is one approval record.
type Request struct {
	ID              string  `json:"id"`
	Action          string  `json:"action"`
	Zone            string  `json:"zone"`
	RiskLevel       string  `json:"risk_level"`
	Description     string  `json:"description"`
	Target          string  `json:"target"`
	ProposedContent string  `json:"proposed_content,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       float64 `json:"created_at"`
	ResolvedAt      float64 `json:"resolved_at,omitempty"`
	ResolvedBy      string  `json:"resolved_by,omitempty"`
}

// notification is the pub/sub payload emitted on creation.
type notification struct {
	ApprovalID      string `json:"approval_id"`
	Action          string `json:"action"`
	Zone            string `json:"zone"`
	RiskLevel       string `json:"risk_level"`
	Description     string `json:"description"`
	Target          string `json:"target"`
	ProposedContent string `json:"proposed_content,omitempty"`
}

// Manager owns the approval lifecycle.
type Manager struct {
	store          store.Store
	logger         *observability.Logger
	metrics        *observability.Metrics
	defaultTimeout time.Duration

	// now and poll are swappable for tests.
	now  func() time.Time
	poll time.Duration
}

// NewManager creates a manager. defaultTimeout bounds Wait when the caller
// passes zero, and sizes the storage TTL (2x) of every record.
func NewManager(st store.Store, logger *observability.Logger, defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Manager{
		store:          st,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		now:            time.Now,
		poll:           pollInterval,
	}
}

// SetMetrics enables the pending gauge and resolution histogram. The gauge
// tracks Create/Resolve/timeout transitions only; records that expire from
// storage while pending are not decremented.
func (m *Manager) SetMetrics(mx *observability.Metrics) {
	m.metrics = mx
}

// recordResolution updates the gauge and histogram for one transition out
// of pending.
func (m *Manager) recordResolution(ctx context.Context, id, status string) {
	if m.metrics == nil {
		return
	}
	m.metrics.PendingApprovals.Dec()
	if rec, err := m.Get(ctx, id); err == nil && rec.CreatedAt > 0 && rec.ResolvedAt >= rec.CreatedAt {
		m.metrics.ApprovalResolutionDuration.WithLabelValues(status).Observe(rec.ResolvedAt - rec.CreatedAt)
	}
}

// Create persists a new pending approval record and returns its id. The
// record expires from storage after 2x the default timeout. The pub/sub
// notification is best-effort; a publish failure is logged and swallowed
// because waiters poll the record.
func (m *Manager) Create(ctx context.Context, action, zone, riskLevel, description, target, proposedContent string) (string, error) {
	id := uuid.NewString()
	key := keyPrefix + id

	fields := map[string]string{
		"id":          id,
		"action":      action,
		"zone":        zone,
		"risk_level":  riskLevel,
		"description": description,
		"target":      target,
		"status":      StatusPending,
		"created_at":  formatUnix(m.now()),
	}
	if proposedContent != "" {
		fields["proposed_content"] = proposedContent
	}

	if err := m.store.HSet(ctx, key, fields); err != nil {
		return "", err
	}
	if err := m.store.Expire(ctx, key, 2*m.defaultTimeout); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(notification{
		ApprovalID:      id,
		Action:          action,
		Zone:            zone,
		RiskLevel:       riskLevel,
		Description:     description,
		Target:          target,
		ProposedContent: proposedContent,
	})
	if err := m.store.Publish(ctx, channel, string(payload)); err != nil && m.logger != nil {
		m.logger.Warn(ctx, "approval notification publish failed", "approval_id", id, "error", err)
	}
	if m.metrics != nil {
		m.metrics.PendingApprovals.Inc()
	}

	return id, nil
}

// Wait polls the record until it leaves pending, the timeout elapses, or
// ctx is cancelled. On timeout the record is resolved to timeout (only if
// still pending, so a concurrent resolver keeps its win). A missing record
// also returns timeout. Cancellation leaves the record pending; it will
// expire via its TTL.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	key := keyPrefix + id
	deadline := m.now().Add(timeout)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for m.now().Before(deadline) {
		fields, err := m.store.HGetAll(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return StatusTimeout, nil
		}
		if err != nil {
			return StatusTimeout, err
		}
		if status := fields["status"]; status != StatusPending {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}

	// Deadline reached. Write the timeout resolution only if nobody beat
	// us to it.
	wrote, err := m.store.HSetIfFieldEquals(ctx, key, "status", StatusPending, map[string]string{
		"status":      StatusTimeout,
		"resolved_at": formatUnix(m.now()),
		"resolved_by": "system:timeout",
	})
	if err != nil {
		return StatusTimeout, err
	}
	if wrote {
		m.recordResolution(ctx, id, StatusTimeout)
	}
	// Re-read in case a resolver won the race just before the write.
	if fields, err := m.store.HGetAll(ctx, key); err == nil {
		if status := fields["status"]; status != StatusPending && status != "" {
			return status, nil
		}
	}
	return StatusTimeout, nil
}

// Resolve transitions a pending record to status. Returns false when the
// record is missing or already resolved; the status write is atomic so at
// most one resolver ever returns true.
func (m *Manager) Resolve(ctx context.Context, id, status, resolvedBy string) (bool, error) {
	if status != StatusApproved && status != StatusDenied {
		return false, errors.New("status must be approved or denied")
	}
	if resolvedBy == "" {
		resolvedBy = "owner"
	}

	ok, err := m.store.HSetIfFieldEquals(ctx, keyPrefix+id, "status", StatusPending, map[string]string{
		"status":      status,
		"resolved_at": formatUnix(m.now()),
		"resolved_by": resolvedBy,
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.recordResolution(ctx, id, status)
	}
	return ok, nil
}

// Get fetches one approval record by id.
func (m *Manager) Get(ctx context.Context, id string) (*Request, error) {
	fields, err := m.store.HGetAll(ctx, keyPrefix+id)
	if err != nil {
		return nil, err
	}
	return fromFields(fields), nil
}

// ListPending returns all records still in pending, for startup catch-up
// and the operator dashboard.
func (m *Manager) ListPending(ctx context.Context) ([]*Request, error) {
	keys, err := m.store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var pending []*Request
	for _, key := range keys {
		fields, err := m.store.HGetAll(ctx, key)
		if err != nil {
			continue
		}
		if fields["status"] == StatusPending {
			pending = append(pending, fromFields(fields))
		}
	}
	return pending, nil
}

func fromFields(fields map[string]string) *Request {
	createdAt, _ := strconv.ParseFloat(fields["created_at"], 64)
	resolvedAt, _ := strconv.ParseFloat(fields["resolved_at"], 64)
	return &Request{
		ID:              fields["id"],
		Action:          fields["action"],
		Zone:            fields["zone"],
		RiskLevel:       fields["risk_level"],
		Description:     fields["description"],
		Target:          fields["target"],
		ProposedContent: fields["proposed_content"],
		Status:          fields["status"],
		CreatedAt:       createdAt,
		ResolvedAt:      resolvedAt,
		ResolvedBy:      fields["resolved_by"],
	}
}

func formatUnix(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}
