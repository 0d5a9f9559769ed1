// Package main is the CLI entry point for the Locus agent gateway.
//
// Locus runs a self-hosted orchestration gateway in front of LLM
// providers (Anthropic, OpenAI, Ollama): streaming chat over SSE, a
// gated tool surface behind meta-tools, durable plans, scheduled
// triggers and ambient channel workspaces (Discord, Telegram, Slack,
// WebSocket).
//
// # Basic usage
//
// Start the gateway:
//
//	locus serve --config locus.yaml
//
// Check a config file without starting anything:
//
//	locus config validate --config locus.yaml
//
// # Environment variables
//
//   - LOCUS_CONFIG: path to the configuration file (default: locus.yaml)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider keys; these win over
//     keys in the config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "locus",
		Short:         "Self-hosted agent orchestration gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("locus %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies the flag > env > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("LOCUS_CONFIG"); env != "" {
		return env
	}
	return "locus.yaml"
}
