package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/project"
)

// NewProjectCommand groups the project management subcommands.
func NewProjectCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}

	cmd.AddCommand(newProjectCreateCommand(configPath))
	cmd.AddCommand(newProjectListCommand(configPath))

	return cmd
}

func newProjectCreateCommand(configPath *string) *cobra.Command {
	var (
		id          string
		textColumns []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return createProject(cobraCmd.Context(), app, id, args[0], textColumns, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "project id (default: generated)")
	cmd.Flags().StringSliceVar(&textColumns, "text-column", nil, "textual column to analyze (repeatable)")

	return cmd
}

func createProject(ctx context.Context, app *App, id, name string, textColumns []string, out io.Writer) error {
	if id == "" {
		id = uuid.NewString()
	}

	p := project.New(id, name)

	p.Schema.Columns = make([]project.Column, 0, len(textColumns))
	for _, col := range textColumns {
		p.Schema.Columns = append(p.Schema.Columns, project.Column{
			Name: col,
			Type: project.ColumnTextual,
		})
	}

	store := app.Stores.Store(id).WithTimeout(app.Config.Locks.HTTPTimeout)

	err := store.SaveConfig(ctx, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created project %s (%s)\n", id, name)

	return nil
}

func newProjectListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return listProjects(cobraCmd.Context(), app, os.Stdout)
		},
	}
}

func listProjects(ctx context.Context, app *App, out io.Writer) error {
	ids, err := app.Stores.Projects()
	if err != nil {
		return err
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"ID", "NAME", "COLUMNS", "CREATED"})

	for _, id := range ids {
		store := app.Stores.Store(id).WithTimeout(app.Config.Locks.HTTPTimeout)

		p, loadErr := store.LoadConfig(ctx)
		if loadErr != nil {
			// Directories without a readable config still show up, so a
			// corrupted project is visible instead of silently missing.
			if errors.Is(loadErr, artifact.ErrFileNotExists) || errors.Is(loadErr, artifact.ErrCorruptedFile) {
				tbl.AppendRow(table.Row{id, "<unreadable>", "", ""})

				continue
			}

			return loadErr
		}

		tbl.AppendRow(table.Row{
			id,
			p.Metadata.Name,
			len(p.Schema.Columns),
			humanize.Time(p.Metadata.CreatedAt),
		})
	}

	tbl.Render()

	return nil
}
