// Package cli provides the command-line interface for ahm-ai.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd builds the command tree. Running it without a subcommand serves
// the app.
func NewRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:   "ahm-ai",
		Short: "Local multi-profile chat client for hosted language models",
		Long: `ahm-ai keeps named chats for every local profile, stores them in a local
SQLite file and talks to Gemini, OpenAI or Anthropic. Chats can be exported
as self-contained share links for read-only viewing.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(root, opts)

	root.AddCommand(newServeCmd())
	root.AddCommand(newShareCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
