package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stopeworks/stope/internal/experiment"
	"github.com/stopeworks/stope/internal/task"
)

// NewExperimentCommand groups the hyperparameter search subcommands.
func NewExperimentCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Run and plot hyperparameter experiments",
	}

	cmd.AddCommand(newExperimentRunCommand(configPath))
	cmd.AddCommand(newExperimentPlotCommand(configPath))

	return cmd
}

func newExperimentRunCommand(configPath *string) *cobra.Command {
	var (
		trials int
		seed   uint64
	)

	cmd := &cobra.Command{
		Use:   "run <project> <column>",
		Short: "Search topic-model hyperparameters for a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return runExperiment(cobraCmd.Context(), app, args[0], args[1], trials, seed, os.Stdout)
		},
	}

	cmd.Flags().IntVar(&trials, "trials", 0, "number of trials (default 10)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "sampler seed for reproducible searches")

	return cmd
}

func runExperiment(ctx context.Context, app *App, projectID, column string,
	trials int, seed uint64, out io.Writer,
) error {
	store := app.Stores.Store(projectID)
	id := task.ID(projectID, task.KindExperiment, column)

	err := app.Engine.Submit(ctx, id, func(jobCtx context.Context, proxy *task.Proxy) error {
		restore := proxy.Context(taskLogFile(store, id))
		defer restore()

		driver := experiment.NewDriver(store, column, experiment.NewRandomSampler(seed), proxy.Logger())

		record, runErr := driver.Run(jobCtx, experiment.Constraints{Trials: trials}, proxy)
		if runErr != nil {
			return runErr
		}

		proxy.Success(task.ExperimentData(record))

		return nil
	}, task.PolicyCancel)
	if err != nil {
		return err
	}

	return waitForTask(ctx, app, id, out)
}

func newExperimentPlotCommand(configPath *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "plot <project> <column>",
		Short: "Render an HTML chart of trial scores",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return plotExperiment(cobraCmd.Context(), app, args[0], args[1], outPath, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "scores.html", "output HTML file")

	return cmd
}

func plotExperiment(ctx context.Context, app *App, projectID, column, outPath string, out io.Writer) error {
	store := app.Stores.Store(projectID).WithTimeout(app.Config.Locks.HTTPTimeout)

	record, err := store.LoadExperiment(ctx, column)
	if err != nil {
		return err
	}

	err = experiment.RenderPlot(record, outPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "wrote %s (%d trials)\n", outPath, len(record.Trials))

	return nil
}
