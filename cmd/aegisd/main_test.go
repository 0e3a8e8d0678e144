package main

import (
	"testing"

	"github.com/aegis-agent/aegis/internal/config"
	"github.com/aegis-agent/aegis/internal/llm"
)

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	if root.Use != "aegisd" {
		t.Errorf("Use = %q", root.Use)
	}
	if root.Version == "" {
		t.Error("version string is empty")
	}

	found := false
	for _, cmd := range root.Commands() {
		if cmd.Use == "serve" {
			found = true
		}
	}
	if !found {
		t.Error("serve subcommand not registered")
	}
}

func TestChatClientBackendSelection(t *testing.T) {
	ollama := llm.NewOllamaClient("http://localhost:11434")

	cfg := config.Default()
	if got := chatClient(cfg, ollama); got != llm.Client(ollama) {
		t.Errorf("default backend client = %T, want the native client", got)
	}

	cfg.Ollama.Backend = "openai"
	cfg.Ollama.Host = "http://localhost:11434/v1"
	if _, ok := chatClient(cfg, ollama).(*llm.OpenAIClient); !ok {
		t.Errorf("openai backend client = %T, want *llm.OpenAIClient", chatClient(cfg, ollama))
	}
}
