package commands

import (
	"context"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stopeworks/stope/internal/task"
)

// NewTasksCommand shows the engine's task records.
func NewTasksCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Show task records",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			renderTasks(os.Stdout, app.Engine.List())

			return nil
		},
	}
}

// renderTasks writes task records as a table, one row per record with its
// latest log line.
func renderTasks(out io.Writer, records []*task.Record) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"TASK", "STATUS", "UPDATED", "MESSAGE"})

	for _, rec := range records {
		updated := ""
		if len(rec.Logs) > 0 {
			updated = humanize.Time(rec.Logs[len(rec.Logs)-1].Timestamp)
		}

		tbl.AppendRow(table.Row{
			rec.ID,
			colorStatus(rec.Status),
			updated,
			lastMessage(rec),
		})
	}

	tbl.Render()
}

func colorStatus(status task.Status) string {
	switch status {
	case task.StatusSuccess:
		return color.New(color.FgGreen).Sprint(string(status))
	case task.StatusFailed:
		return color.New(color.FgRed).Sprint(string(status))
	case task.StatusPending:
		return color.New(color.FgYellow).Sprint(string(status))
	default:
		return string(status)
	}
}
