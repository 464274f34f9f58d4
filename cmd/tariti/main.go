// Package main provides the CLI entry point for the Tariti assistant backend.
//
// Tariti serves a tool-using chat assistant over HTTP. Turns stream as
// server-sent events or over a WebSocket, risky tools wait for the user's
// approval, and the assistant reads CRM and telephony data through the
// external API resolver.
//
// # Basic Usage
//
// Start the server:
//
//	tariti serve --config tariti.yaml
//
// Create or upgrade the database schema:
//
//	tariti migrate --config tariti.yaml
//
// Resolve an external value from the command line:
//
//	tariti resolve amocrm.leads_list --param limit=5
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - TARITI_CONFIG: Path to configuration file (default: tariti.yaml when present)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for fallback and GPT models
//   - DATABASE_URL: Postgres or SQLite connection string
//   - JWT_SECRET: Secret that verifies access tokens
//   - AMOCRM_BASE_URL, AMOCRM_API_KEY: CRM access
//   - MOIZVONKI_USER, MOIZVONKI_API_KEY: telephony access
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tariti",
		Short: "Tariti - tool-using assistant backend",
		Long: `Tariti streams assistant turns to the web app, runs data tools against
the CRM, telephony and content stores, and holds risky tools until the user
approves them.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT, as primary or fallback)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildResolveCmd(),
		buildVariablesCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
