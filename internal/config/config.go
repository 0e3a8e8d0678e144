// Package config loads the runtime configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegis-agent/aegis/internal/agent"
)

// Config is the main configuration structure for the agent runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Router        agent.RouterConfig  `yaml:"router"`
	Policy        PolicyConfig        `yaml:"policy"`
	Identity      IdentityConfig      `yaml:"identity"`
	Approval      ApprovalConfig      `yaml:"approval"`
	Memory        MemoryConfig        `yaml:"memory"`
	Heartbeat     HeartbeatConfig     `yaml:"heartbeat"`
	Agent         AgentConfig         `yaml:"agent"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RedisConfig struct {
	// URL is a redis:// connection string. Empty falls back to the
	// in-process store, which loses durability across restarts.
	URL string `yaml:"url"`
}

type OllamaConfig struct {
	Host string `yaml:"host"`
	// Backend selects the wire protocol: "ollama" speaks the native
	// /api/chat surface, "openai" speaks the OpenAI-compatible chat
	// completions API (point Host at the full base URL, e.g.
	// http://localhost:11434/v1). The key for an openai backend is read
	// from LLM_API_KEY; local runners usually ignore it.
	Backend string `yaml:"backend"`
}

type PolicyConfig struct {
	// Path to the policy YAML document. Watched for hot reload.
	Path string `yaml:"path"`
}

type IdentityConfig struct {
	// Dir holds the identity markdown files.
	Dir string `yaml:"dir"`
}

type ApprovalConfig struct {
	// Timeout bounds how long a gated action waits for a human decision.
	Timeout time.Duration `yaml:"timeout"`
}

type MemoryConfig struct {
	// ChromaURL is the vector store endpoint. Empty disables the memory
	// and knowledge skills.
	ChromaURL  string `yaml:"chroma_url"`
	EmbedModel string `yaml:"embed_model"`
}

type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// WatchModel names the model mentioned in runner upgrade notifications.
	WatchModel string `yaml:"watch_model"`
}

type AgentConfig struct {
	// MaxIterations caps tool-call rounds per turn.
	MaxIterations int `yaml:"max_iterations"`
	// HistoryTokenBudget bounds how much conversation history enters the
	// prompt, in estimated tokens.
	HistoryTokenBudget int `yaml:"history_token_budget"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	// OTLPEndpoint enables span export when set; empty keeps the no-op
	// tracer.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides lets well-known environment variables override the
// file, so container deployments need no config edits.
func applyEnvOverrides(cfg *Config) {
	set := func(dst *string, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Redis.URL, "AEGIS_REDIS_URL", "REDIS_URL")
	set(&cfg.Ollama.Host, "AEGIS_OLLAMA_HOST", "OLLAMA_HOST")
	set(&cfg.Ollama.Backend, "AEGIS_LLM_BACKEND")
	set(&cfg.Memory.ChromaURL, "AEGIS_CHROMA_URL", "CHROMA_URL")
	set(&cfg.Policy.Path, "AEGIS_POLICY_PATH")
	set(&cfg.Identity.Dir, "AEGIS_IDENTITY_DIR")
	set(&cfg.Logging.Level, "AEGIS_LOG_LEVEL")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = "http://ollama-runner:11434"
	}
	if cfg.Ollama.Backend == "" {
		cfg.Ollama.Backend = "ollama"
	}
	if cfg.Router.DefaultModel == "" {
		cfg.Router.DefaultModel = "llama3.2:3b"
	}
	if cfg.Router.ReasoningModel == "" {
		cfg.Router.ReasoningModel = "qwen3:8b"
	}
	if cfg.Router.DeepModel == "" {
		cfg.Router.DeepModel = cfg.Router.ReasoningModel
	}
	if cfg.Router.NumCtx == 0 {
		cfg.Router.NumCtx = 8192
	}
	if cfg.Router.DeepNumCtx == 0 {
		cfg.Router.DeepNumCtx = 16384
	}
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "policy.yaml"
	}
	if cfg.Identity.Dir == "" {
		cfg.Identity.Dir = "identity"
	}
	if cfg.Approval.Timeout == 0 {
		cfg.Approval.Timeout = 5 * time.Minute
	}
	if cfg.Memory.EmbedModel == "" {
		cfg.Memory.EmbedModel = "nomic-embed-text"
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = time.Minute
	}
	if cfg.Heartbeat.WatchModel == "" {
		cfg.Heartbeat.WatchModel = cfg.Router.DefaultModel
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.HistoryTokenBudget == 0 {
		cfg.Agent.HistoryTokenBudget = 6000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "aegisd"
	}
}
