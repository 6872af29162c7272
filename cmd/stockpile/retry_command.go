package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stockpile/internal/queue"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs",
		Long: "Requeue failed jobs so they resume after their last completed stage.\n" +
			"With no ids every failed job is requeued.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					job, err := store.FindByPrefix(cmd.Context(), strings.TrimSpace(arg))
					if err != nil {
						return err
					}
					if job.Status != queue.StatusFailed {
						return fmt.Errorf("job %s is %s, only failed jobs can be retried", job.Label(), job.Status)
					}
					ids = append(ids, job.ID)
				}
				jobs, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No failed jobs to retry")
					return nil
				}
				for _, job := range jobs {
					fmt.Fprintf(out, "Requeued %s (%s), resumes after %s\n", job.Label(), job.FilePath, job.Stage)
				}
				return nil
			})
		},
	}
}
