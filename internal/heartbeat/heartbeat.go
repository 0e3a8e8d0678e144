// Package heartbeat runs the periodic observe-reason-act tick.
//
// Each tick emits a trace event and checks the model runner's version,
// publishing a notification when the runner was upgraded so the owner knows
// to retry pulling models that needed a newer version. A failed tick is
// recorded and the loop keeps going.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/store"
	"github.com/aegis-agent/aegis/internal/trace"
)

const (
	versionKey = "heartbeat:ollama_version"

	// NotificationChannel carries owner-facing notifications; the
	// messaging bridge subscribes to it.
	NotificationChannel = "notifications:agent"
)

// VersionSource reports the model runner's current version.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// Heartbeat owns the background tick loop.
type Heartbeat struct {
	store      store.Store
	recorder   *trace.Recorder
	logger     *observability.Logger
	versions   VersionSource
	watchModel string
	interval   time.Duration

	cron *cron.Cron
}

// New creates a heartbeat ticking every interval. watchModel names the
// model mentioned in upgrade notifications.
func New(st store.Store, recorder *trace.Recorder, logger *observability.Logger, versions VersionSource, watchModel string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Heartbeat{
		store:      st,
		recorder:   recorder,
		logger:     logger,
		versions:   versions,
		watchModel: watchModel,
		interval:   interval,
	}
}

// Start launches the tick schedule in the background. Stop with Stop.
func (h *Heartbeat) Start(ctx context.Context) {
	h.cron = cron.New()
	h.cron.Schedule(cron.Every(h.interval), cron.FuncJob(func() {
		h.Tick(ctx)
	}))
	h.cron.Start()
}

// Stop halts the schedule, waiting for a running tick to finish.
func (h *Heartbeat) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// Tick runs one heartbeat: trace the tick, then check the runner version.
func (h *Heartbeat) Tick(ctx context.Context) {
	h.recorder.Heartbeat(ctx, "tick", "")
	if err := h.checkRunnerVersion(ctx); err != nil {
		h.recorder.Heartbeat(ctx, "error", err.Error())
		if h.logger != nil {
			h.logger.Warn(ctx, "heartbeat tick failed", "error", err)
		}
	}
}

// checkRunnerVersion compares the runner's version against the stored one
// and notifies on change. An unreachable runner is skipped silently; a tick
// must never escalate a transient outage.
func (h *Heartbeat) checkRunnerVersion(ctx context.Context) error {
	if h.store == nil || h.versions == nil {
		return nil
	}

	current, err := h.versions.Version(ctx)
	if err != nil {
		return nil
	}

	last, err := h.store.Get(ctx, versionKey)
	if err != nil {
		if err := h.store.Set(ctx, versionKey, current, 0); err != nil {
			return fmt.Errorf("store runner version: %w", err)
		}
		return nil
	}
	if current == last {
		return nil
	}

	if err := h.store.Set(ctx, versionKey, current, 0); err != nil {
		return fmt.Errorf("store runner version: %w", err)
	}
	message := fmt.Sprintf(
		"🆕 *Ollama updated!* `%s` → `%s`\n\nYou can now retry pulling `%s`:\n`docker exec ollama-runner ollama pull %s`",
		last, current, h.watchModel, h.watchModel,
	)
	payload, _ := json.Marshal(map[string]string{"text": message})
	if err := h.store.Publish(ctx, NotificationChannel, string(payload)); err != nil {
		return fmt.Errorf("publish upgrade notification: %w", err)
	}
	h.recorder.Heartbeat(ctx, "ollama_updated", fmt.Sprintf("%s -> %s", last, current))
	return nil
}
