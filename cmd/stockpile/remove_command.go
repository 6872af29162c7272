package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stockpile/internal/queue"
	"stockpile/internal/staging"
)

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id...>",
		Short: "Delete completed or failed jobs",
		Long: "Delete completed or failed jobs from the queue along with any staging files.\n" +
			"Pending and processing jobs are refused. Organized output is left in place.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					job, err := store.FindByPrefix(cmd.Context(), strings.TrimSpace(arg))
					if err != nil {
						return err
					}
					if err := store.Remove(cmd.Context(), job.ID); err != nil {
						return fmt.Errorf("remove %s: %w", job.Label(), err)
					}
					if err := staging.RemoveJob(cfg.Paths.StagingDir, job.ID); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Warning: staging for %s not removed: %v\n", job.Label(), err)
					}
					fmt.Fprintf(out, "Removed %s (%s, %s)\n", job.Label(), job.FilePath, job.Status)
				}
				return nil
			})
		},
	}
}
