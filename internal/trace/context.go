// Package trace implements the per-request tracing fabric: correlation
// identifiers bound to the request context, and structured events recorded
// to a streaming sink and durable ring buffers.
//
// Every component of a turn (chat entry, policy decisions, approvals, skill
// executions) emits events under the same trace identifier, so one request
// can be reconstructed from the log stream alone. Recording is strictly
// best-effort: a sink failure never propagates to the request.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aegis-agent/aegis/internal/observability"
)

// Context carries the correlation fields of one request.
type Context struct {
	TraceID string `json:"trace_id"`
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}

// New binds a fresh trace to the context and returns the trace id: 16 hex
// characters, short enough to paste into a log search by hand.
func New(ctx context.Context, userID, channel string) (context.Context, string) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	ctx = context.WithValue(ctx, observability.TraceIDKey, id)
	ctx = context.WithValue(ctx, observability.UserIDKey, userID)
	ctx = context.WithValue(ctx, observability.ChannelKey, channel)
	return ctx, id
}

// FromContext reads the correlation fields bound by New. Fields missing from
// the context are returned as empty strings.
func FromContext(ctx context.Context) Context {
	var tc Context
	if id, ok := ctx.Value(observability.TraceIDKey).(string); ok {
		tc.TraceID = id
	}
	if userID, ok := ctx.Value(observability.UserIDKey).(string); ok {
		tc.UserID = userID
	}
	if channel, ok := ctx.Value(observability.ChannelKey).(string); ok {
		tc.Channel = channel
	}
	return tc
}
