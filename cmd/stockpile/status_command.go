package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stockpile/internal/daemon"
	"stockpile/internal/daemonrun"
	"stockpile/internal/preflight"
	"stockpile/internal/queue"
	"stockpile/internal/staging"
)

const recentJobsLimit = 10

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var checkLLM bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view := statusView{Counts: map[string]int{}}

			running, err := daemon.IsRunning(cfg)
			if err != nil {
				return fmt.Errorf("probe daemon lock: %w", err)
			}
			view.Daemon.Running = running
			if running {
				view.Daemon.PID = daemon.ReadPID(cfg.PIDPath())
			}

			var recent []*queue.Job
			err = ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				for _, status := range queue.AllStatuses() {
					view.Counts[string(status)] = stats[status]
				}
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				view.Database = newDatabaseView(health)
				recent, err = store.Recent(cmd.Context(), recentJobsLimit)
				return err
			})
			if err != nil {
				return err
			}
			view.Recent = newJobViews(recent)

			dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("inspect staging: %w", err)
			}
			view.Staging.Directories = len(dirs)
			for _, dir := range dirs {
				view.Staging.Bytes += dir.Size
			}

			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{CheckLLM: checkLLM})
			for _, r := range results {
				view.Checks = append(view.Checks, checkView{Name: r.Name, Passed: r.Passed, Optional: r.Optional, Detail: r.Detail})
			}

			if rt, err := daemonrun.Build(cmd.Context(), cfg, nil, nil); err != nil {
				view.Stages = []stageView{{Stage: "pipeline", Detail: err.Error()}}
			} else {
				view.Stages = newStageViews(rt.Pipeline.HealthChecks(cmd.Context()))
			}

			if asJSON {
				return writeJSON(cmd, view)
			}
			printStatus(cmd, view, results, recent)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&checkLLM, "check-llm", false, "Call the LLM endpoint instead of only checking the key")
	return cmd
}

func printStatus(cmd *cobra.Command, view statusView, results []preflight.Result, recent []*queue.Job) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	if view.Daemon.Running {
		msg := "running"
		if view.Daemon.PID > 0 {
			msg = fmt.Sprintf("running (pid %d)", view.Daemon.PID)
		}
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, msg, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusInfo, "not running", colorize))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
	for _, status := range queue.AllStatuses() {
		count := view.Counts[string(status)]
		kind := statusInfo
		if count > 0 {
			kind = jobStatusKind(status)
		}
		fmt.Fprintln(out, renderStatusLine(titleCase(string(status)), kind, fmt.Sprintf("%d", count), colorize))
	}
	db := view.Database
	dbKind, dbMsg := statusOK, fmt.Sprintf("schema v%d, %d jobs", db.SchemaVersion, db.TotalJobs)
	if db.Error != "" || !db.IntegrityOK {
		dbKind, dbMsg = statusError, strings.TrimSpace("integrity check failed "+db.Error)
	}
	fmt.Fprintln(out, renderStatusLine("Database", dbKind, dbMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Staging", statusInfo,
		fmt.Sprintf("%d job dirs, %s", view.Staging.Directories, humanize.Bytes(uint64(view.Staging.Bytes))), colorize))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
	for _, r := range results {
		fmt.Fprintln(out, renderStatusLine(r.Name, checkKind(r), r.Detail, colorize))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
	for _, st := range view.Stages {
		kind, msg := statusOK, "ready"
		if !st.Ready {
			kind, msg = statusError, st.Detail
		}
		fmt.Fprintln(out, renderStatusLine(titleCase(strings.ReplaceAll(st.Stage, "_", " ")), kind, msg, colorize))
	}

	if len(recent) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Recent jobs", colorize))
		fmt.Fprintln(out, renderTable(jobColumns, jobRows(recent)))
	}
}

var statusTitler = cases.Title(language.English)

func titleCase(value string) string {
	return statusTitler.String(value)
}
