package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-agent/aegis/internal/agent"
	"github.com/aegis-agent/aegis/internal/approval"
	"github.com/aegis-agent/aegis/internal/config"
	"github.com/aegis-agent/aegis/internal/gateway"
	"github.com/aegis-agent/aegis/internal/heartbeat"
	"github.com/aegis-agent/aegis/internal/identity"
	"github.com/aegis-agent/aegis/internal/llm"
	"github.com/aegis-agent/aegis/internal/memory"
	"github.com/aegis-agent/aegis/internal/observability"
	"github.com/aegis-agent/aegis/internal/policy"
	"github.com/aegis-agent/aegis/internal/ratelimit"
	"github.com/aegis-agent/aegis/internal/secrets"
	"github.com/aegis-agent/aegis/internal/skills"
	"github.com/aegis-agent/aegis/internal/skills/files"
	"github.com/aegis-agent/aegis/internal/skills/memories"
	"github.com/aegis-agent/aegis/internal/skills/rag"
	"github.com/aegis-agent/aegis/internal/skills/urlfetch"
	"github.com/aegis-agent/aegis/internal/skills/websearch"
	"github.com/aegis-agent/aegis/internal/store"
	"github.com/aegis-agent/aegis/internal/trace"
)

// buildServeCmd creates the "serve" command that starts the agent daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		policyPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent daemon",
		Long: `Start the agent daemon with the gateway, policy engine, skill
catalog, and heartbeat.

The daemon will:
1. Load configuration from the specified file
2. Connect to Redis (falling back to in-memory storage)
3. Load and watch the policy document
4. Register the skill catalog
5. Start the HTTP gateway

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  aegisd serve

  # Start with custom config
  aegisd serve --config /etc/aegis/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, policyPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (defaults to built-in configuration)")
	cmd.Flags().StringVar(&policyPath, "policy", "",
		"Path to the policy document (overrides the config file)")
	cmd.Flags().StringVar(&addr, "addr", "",
		"Listen address host:port (overrides the config file)")
	return cmd
}

// runServe wires the runtime and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath, policyPath, addrOverride string) error {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if policyPath != "" {
		cfg.Policy.Path = policyPath
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store. Without Redis the runtime still works but loses
	// approvals, history, and rate-limit state on restart.
	var st store.Store
	if cfg.Redis.URL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn(ctx, "redis unavailable, using in-memory store", "error", err)
			st = store.NewMemoryStore()
		} else {
			st = redisStore
		}
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	limiter := ratelimit.NewLimiter(st, logger)
	engine, err := policy.NewEngine(cfg.Policy.Path, limiter)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	go func() {
		if err := engine.Watch(ctx, logger); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "policy watcher stopped", "error", err)
		}
	}()

	recorder := trace.NewRecorder(logger, st)
	approvals := approval.NewManager(st, logger, cfg.Approval.Timeout)
	approvals.SetMetrics(metrics)

	// Decisions feed the counter and the logs:policy ring buffer.
	engine.SetObserver(func(target string, res policy.Result) {
		metrics.PolicyDecisions.WithLabelValues(string(res.Action), string(res.Decision)).Inc()
		recorder.Policy(context.Background(), string(res.Action), target, string(res.Decision), res.Reason)
	})

	// Embeddings and the version probe always speak native Ollama; only
	// the chat path is switchable to an OpenAI-compatible endpoint.
	ollama := llm.NewOllamaClient(cfg.Ollama.Host)
	client := chatClient(cfg, ollama)

	registry := skills.NewRegistry()
	registry.MustRegister(websearch.New())
	registry.MustRegister(files.NewRead(engine))
	registry.MustRegister(files.NewWrite(engine))
	registry.MustRegister(urlfetch.New(engine))

	if cfg.Memory.ChromaURL != "" {
		chroma := memory.NewChromaClient(cfg.Memory.ChromaURL)
		memStore := memory.NewStore(chroma, ollama, cfg.Memory.EmbedModel)
		knowledge := memory.NewKnowledge(chroma, ollama, cfg.Memory.EmbedModel)
		registry.MustRegister(memories.NewRemember(memStore))
		registry.MustRegister(memories.NewRecall(memStore))
		registry.MustRegister(rag.NewIngest(knowledge))
		registry.MustRegister(rag.NewSearch(knowledge))
	} else {
		logger.Info(ctx, "chroma not configured, memory skills disabled")
	}

	runner := skills.NewRunner(registry, engine, approvals, recorder, metrics)
	runner.SetTracer(tracer)
	orchestrator := agent.NewOrchestrator(client, registry, runner, engine, cfg.Agent.MaxIterations)
	orchestrator.SetTracer(tracer)
	history := agent.NewHistory(st)
	loader := identity.NewLoader(cfg.Identity.Dir)
	service := agent.NewService(
		orchestrator, history, loader, approvals, recorder, logger, metrics,
		cfg.Router, cfg.Agent.HistoryTokenBudget,
	)

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.New(st, recorder, logger, ollama, cfg.Heartbeat.WatchModel, cfg.Heartbeat.Interval)
		hb.Start(ctx)
		defer hb.Stop()
	}

	// Secret accesses leave an audit line; the value never does.
	secrets.Notify = func(key string, found bool) {
		logger.Debug(context.Background(), "secret access", "key", key, "found", found)
	}

	server := gateway.NewServer(service, history, approvals, engine, st, logger, metrics, secrets.Get)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if addrOverride != "" {
		addr = addrOverride
	}
	if err := server.Start(addr); err != nil {
		return err
	}

	logger.Info(ctx, "aegisd started",
		"addr", addr,
		"skills", registry.Len(),
		"bootstrap_mode", loader.IsBootstrapMode(),
		"policy", cfg.Policy.Path,
	)

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// chatClient selects the model client for the configured backend. The
// openai backend serves any OpenAI-compatible endpoint (vLLM, llama.cpp
// server, Ollama's /v1 surface); everything else gets the native client.
func chatClient(cfg *config.Config, ollama *llm.OllamaClient) llm.Client {
	if cfg.Ollama.Backend == "openai" {
		return llm.NewOpenAIClient(cfg.Ollama.Host, os.Getenv("LLM_API_KEY"))
	}
	return ollama
}
