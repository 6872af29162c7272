package main

import (
	"github.com/spf13/cobra"

	"stockpile/internal/daemonrun"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var development bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Long: "Watch the configured inputs and process jobs until interrupted.\n" +
			"On SIGINT or SIGTERM in-flight jobs get the configured shutdown grace\n" +
			"before they are cancelled and left for the next start to resume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
