// Package main provides the CLI entry point for the chatbot server.
//
// The server answers chat messages through a configurable LLM provider
// (Google Gemini, OpenAI, or Anthropic), can call a web search tool, and
// turns dashboard instructions into structured commands for the frontend.
//
// # Basic Usage
//
// Start the server:
//
//	chatbot serve --config chatbot.yaml
//
// Chat with a running server from the terminal:
//
//	chatbot chat --server http://localhost:3005
//
// Manage database migrations:
//
//	chatbot migrate up
//	chatbot migrate status
//
// # Environment Variables
//
//   - CHATBOT_CONFIG: Path to configuration file
//   - GOOGLE_API_KEY: Google Gemini API key
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - DATABASE_URL: Postgres URL; switches history to the postgres backend
//   - PORT: HTTP listen port
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const configEnv = "CHATBOT_CONFIG"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatbot",
		Short: "Chatbot - conversational assistant with dashboard commands",
		Long: `Chatbot serves a conversational assistant over HTTP and websockets.

Supported LLM providers: Google (Gemini), OpenAI (GPT), Anthropic (Claude)
Available tools: Web Search, Dashboard Widgets`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// resolveConfigPath prefers the flag, then CHATBOT_CONFIG. An empty result
// means built-in defaults.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(configEnv))
}
