package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/sessionguard/internal/background"
)

// NewCleanupCmd creates the cleanup subcommand for cron-style deployments.
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions, reset tokens and old login attempts once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler := background.NewScheduler(ctx, a.metrics, a.logger)
			defer scheduler.Stop()

			var errs []error
			for _, job := range a.cleanupJobs() {
				removed, err := scheduler.RunOnce(job.name, job.run)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				cmd.Printf("%s: removed %d\n", job.name, removed)
			}
			return errors.Join(errs...)
		},
	}
}
