package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command. Configuration comes from the
// environment and an optional .env file.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sessionguard",
		Short:        "Session authentication and account security service",
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())
	cmd.AddCommand(NewUnlockCmd())

	return cmd
}
