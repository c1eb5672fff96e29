// Package cmd provides the CLI commands for nousd.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nousbase/nous/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the nousd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nousd",
		Short: "Personal knowledge-base server",
		Long: `nousd saves web pages into a per-user knowledge base and answers
natural-language queries over them with hybrid keyword and semantic search.

It runs entirely locally: content, keyword index, and vectors live in a
single data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("nousd version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
