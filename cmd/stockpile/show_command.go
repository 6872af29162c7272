package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"stockpile/internal/queue"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's details",
		Long:  "Show a job's details. Any unambiguous prefix of the job id is accepted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				job, err := store.FindByPrefix(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, newJobView(job))
				}
				writeJobDetail(cmd.OutOrStdout(), newJobView(job))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func writeJobDetail(out io.Writer, v jobView) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-14s %s\n", label+":", value)
		}
	}
	field("ID", v.ID)
	field("File", v.FilePath)
	field("Source", v.Source)
	field("Status", v.Status)
	field("Stage", v.Stage)
	field("Attempts", fmt.Sprintf("%d", v.Attempts))
	field("Error", v.Error)
	if len(v.SearchPhrases) > 0 {
		field("Phrases", strings.Join(v.SearchPhrases, "; "))
	}
	if v.Candidates > 0 || v.Scored > 0 {
		field("Candidates", fmt.Sprintf("%d found, %d scored", v.Candidates, v.Scored))
	}
	field("Output", v.OutputPath)
	field("Remote", v.RemoteLink)
	field("Created", v.CreatedAt)
	field("Updated", v.UpdatedAt)
	field("Heartbeat", v.LastHeartbeat)
	field("Completed", v.CompletedAt)
	field("Notified", v.NotifiedAt)

	if len(v.Downloads) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(v.Downloads))
	for _, d := range v.Downloads {
		rows = append(rows, []string{fmt.Sprintf("%d", d.Score), d.Phrase, d.Title, d.LocalPath})
	}
	fmt.Fprintln(out, renderTable([]tableColumn{
		{Header: "Score", Align: alignRight},
		{Header: "Phrase"},
		{Header: "Title"},
		{Header: "File"},
	}, rows))
}
