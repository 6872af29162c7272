package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"stockpile/internal/daemonrun"
	"stockpile/internal/queue"
	"stockpile/internal/services"
	"stockpile/internal/source"
	"stockpile/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <path>",
		Short: "Run one local file through the pipeline and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return err
			}
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if !source.IsSupportedMedia(path) {
				return services.Wrap(services.ErrUnsupportedMedia, "", "process", fmt.Sprintf("unsupported file type %q (accepted: %s)", filepath.Ext(path), strings.Join(source.SupportedExtensions(), " ")), nil)
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			rt, err := daemonrun.Build(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}

			return ctx.withStore(func(store *queue.Store) error {
				created, err := store.Create(cmd.Context(), path, queue.SourceLocal)
				if err != nil {
					if errors.Is(err, queue.ErrDuplicateJob) {
						return fmt.Errorf("%s is already queued: %w", path, err)
					}
					return err
				}
				job, err := store.Claim(cmd.Context(), created.ID)
				if err != nil {
					return err
				}

				manager := workflow.NewManager(cfg, store, rt.Pipeline, logger, workflow.WithNotifier(rt.Notifier))
				if err := manager.ProcessJob(cmd.Context(), job); err != nil {
					return fmt.Errorf("process %s: %w", job.Label(), err)
				}

				final, err := store.Get(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				return reportOutcome(cmd.OutOrStdout(), final)
			})
		},
	}
}

// reportOutcome prints the result of a one-shot run. Only a completed job
// counts as success; a job left non-terminal lost its claim mid-run.
func reportOutcome(out io.Writer, final *queue.Job) error {
	switch final.Status {
	case queue.StatusCompleted:
		fmt.Fprintf(out, "Job %s completed with %d clips\n", final.Label(), len(final.Downloads))
		fmt.Fprintf(out, "Output: %s\n", final.OutputPath)
		if final.RemoteLink != "" {
			fmt.Fprintf(out, "Remote: %s\n", final.RemoteLink)
		}
		return nil
	case queue.StatusFailed:
		fmt.Fprintf(out, "Job %s failed at %s\n", final.Label(), final.Stage.Next())
		return fmt.Errorf("job %s failed: %s", final.Label(), final.ErrorMessage)
	default:
		return fmt.Errorf("job %s lost its claim (now %s at %s)", final.Label(), final.Status, final.Stage)
	}
}
