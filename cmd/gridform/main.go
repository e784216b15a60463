// Package main is the entry point for the gridform admin server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/gridform/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gridform",
		Short:         "Admin grids with nested detail forms",
		Long:          `gridform serves paginated grids of records and the create, edit and view forms of their rows, down through nested relations.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "path to configuration file")

	root.AddCommand(newServeCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("gridform %s (%s)\n", version, commit)
		},
	}
}

func main() {
	observability.Version = version
	observability.Commit = commit

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
