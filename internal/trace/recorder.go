package trace

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/store"
)

// Event types recorded by the fabric.
const (
	EventChat      = "chat"
	EventSkill     = "skill"
	EventPolicy    = "policy"
	EventApproval  = "approval"
	EventHeartbeat = "heartbeat"
)

// Ring buffer retention. The firehose keeps more than the per-type buffers
// because it is the first place an operator looks.
const (
	firehoseKey = "logs:all"
	firehoseCap = 1000
	perTypeCap  = 500
)

// Recorder writes trace events to the streaming sink (the structured
// logger) and to the durable ring buffers. Every write path swallows its
// own errors; a broken sink degrades observability, never requests.
type Recorder struct {
	logger *observability.Logger
	store  store.Store
}

// NewRecorder creates a recorder. The store may be nil, in which case only
// the streaming sink receives events.
func NewRecorder(logger *observability.Logger, st store.Store) *Recorder {
	return &Recorder{logger: logger, store: st}
}

// Emit records one event: correlation fields and a timestamp are merged
// into data, the result is serialized as single-line JSON, written to the
// streaming sink, and pushed onto logs:all and logs:<eventType>.
func (r *Recorder) Emit(ctx context.Context, eventType string, data map[string]any) {
	tc := FromContext(ctx)

	event := make(map[string]any, len(data)+5)
	for k, v := range data {
		event[k] = Sanitize(v)
	}
	event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	event["trace_id"] = tc.TraceID
	event["user_id"] = tc.UserID
	event["channel"] = tc.Channel
	event["event"] = eventType

	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	if r.logger != nil {
		r.logger.Info(ctx, "trace", "event_type", eventType, "event", string(line))
	}
	r.push(ctx, eventType, string(line))
}

// push appends the serialized event to both ring buffers, trimming each to
// its cap. Storage errors are swallowed.
func (r *Recorder) push(ctx context.Context, eventType, line string) {
	if r.store == nil {
		return
	}
	if err := r.store.LPush(ctx, firehoseKey, line); err == nil {
		_ = r.store.LTrim(ctx, firehoseKey, 0, firehoseCap-1)
	}
	typeKey := "logs:" + eventType
	if err := r.store.LPush(ctx, typeKey, line); err == nil {
		_ = r.store.LTrim(ctx, typeKey, 0, perTypeCap-1)
	}
}

// Chat records one chat message crossing the boundary in either direction.
func (r *Recorder) Chat(ctx context.Context, direction, message, model string) {
	r.Emit(ctx, EventChat, map[string]any{
		"direction": direction,
		"message":   message,
		"model":     model,
	})
}

// Skill records the terminal status of one skill pipeline run.
func (r *Recorder) Skill(ctx context.Context, skillName string, params map[string]any, status string, durationMs int64) {
	r.Emit(ctx, EventSkill, map[string]any{
		"skill_name":  skillName,
		"params":      params,
		"status":      status,
		"duration_ms": durationMs,
	})
}

// Policy records one policy decision.
func (r *Recorder) Policy(ctx context.Context, action, target, decision, reason string) {
	r.Emit(ctx, EventPolicy, map[string]any{
		"action":   action,
		"target":   target,
		"decision": decision,
		"reason":   reason,
	})
}

// Approval records an approval lifecycle transition.
func (r *Recorder) Approval(ctx context.Context, approvalID, action, status, resolvedBy string) {
	r.Emit(ctx, EventApproval, map[string]any{
		"approval_id": approvalID,
		"action":      action,
		"status":      status,
		"resolved_by": resolvedBy,
	})
}

// Heartbeat records one heartbeat tick.
func (r *Recorder) Heartbeat(ctx context.Context, status, detail string) {
	r.Emit(ctx, EventHeartbeat, map[string]any{
		"status": status,
		"detail": detail,
	})
}
