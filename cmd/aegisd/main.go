// Package main provides the CLI entry point for the aegisd agent runtime.
//
// aegisd runs a local LLM agent behind a guarded execution runtime: every
// skill invocation passes through rate limiting, validation, policy checks,
// and (for risky actions) human approval before it touches the world.
//
// # Basic Usage
//
// Start the daemon:
//
//	aegisd serve --config config.yaml
//
// # Environment Variables
//
//   - AGENT_API_KEY: shared key required on gateway requests
//   - TAVILY_API_KEY: web search provider key
//   - LLM_API_KEY: model endpoint key when the openai backend is selected
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aegisd",
		Short: "aegisd - guarded local agent runtime",
		Long: `aegisd runs a local LLM agent whose every action passes through a
policy engine, rate limiter, and approval gate before execution.

Skills: web search, file read/write, URL fetch, memory, knowledge base
Model runner: Ollama (or any OpenAI-compatible endpoint)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
