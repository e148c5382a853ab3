package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/pipeline"
	"github.com/stopeworks/stope/internal/task"
)

// taskPollInterval paces the terminal-status poll while a job runs.
const taskPollInterval = 100 * time.Millisecond

// ErrTaskFailed reports a job that reached the failed state.
var ErrTaskFailed = errors.New("task failed")

// NewRunCommand groups the task execution subcommands.
func NewRunCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a topic-modeling or evaluation task",
	}

	cmd.AddCommand(newRunTopicsCommand(configPath))
	cmd.AddCommand(newRunEvaluationCommand(configPath))

	return cmd
}

func newRunTopicsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "topics <project> <column>",
		Short: "Discover topics over a textual column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return runTopics(cobraCmd.Context(), app, args[0], args[1], os.Stdout)
		},
	}
}

func runTopics(ctx context.Context, app *App, projectID, column string, out io.Writer) error {
	store := app.Stores.Store(projectID)
	id := task.ID(projectID, task.KindTopics, column)

	err := app.Engine.Submit(ctx, id, func(jobCtx context.Context, proxy *task.Proxy) error {
		restore := proxy.Context(taskLogFile(store, id))
		defer restore()

		pipe := pipeline.NewTopicPipeline(store, column, proxy.Logger())

		result, runErr := pipe.Run(jobCtx, proxy)
		if runErr != nil {
			return runErr
		}

		proxy.Success(task.TopicsData(result))

		return nil
	}, task.PolicyCancel)
	if err != nil {
		return err
	}

	return waitForTask(ctx, app, id, out)
}

func newRunEvaluationCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluation <project> <column>",
		Short: "Score an existing topic result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			app, err := NewApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return runEvaluation(cobraCmd.Context(), app, args[0], args[1], os.Stdout)
		},
	}
}

func runEvaluation(ctx context.Context, app *App, projectID, column string, out io.Writer) error {
	store := app.Stores.Store(projectID)
	id := task.ID(projectID, task.KindEvaluation, column)

	err := app.Engine.Submit(ctx, id, func(jobCtx context.Context, proxy *task.Proxy) error {
		restore := proxy.Context(taskLogFile(store, id))
		defer restore()

		eval, runErr := pipeline.RunEvaluation(jobCtx, store, column, proxy)
		if runErr != nil {
			return runErr
		}

		proxy.Success(task.EvaluationData(eval))

		return nil
	}, task.PolicyCancel)
	if err != nil {
		return err
	}

	return waitForTask(ctx, app, id, out)
}

// taskLogFile places a task's rotating log under the project's userdata.
func taskLogFile(store *artifact.Store, id string) string {
	return filepath.Join(store.Paths().TaskLogs(), id+".log")
}

// waitForTask polls the engine until the record is terminal, then renders
// it. Cancelling the context stops the task and keeps its record.
func waitForTask(ctx context.Context, app *App, id string, out io.Writer) error {
	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.Engine.Invalidate(id, false)

			return fmt.Errorf("wait for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}

		rec, ok := app.Engine.Get(id)
		if !ok {
			return fmt.Errorf("wait for %s: record disappeared", id)
		}

		if !rec.Status.Terminal() {
			continue
		}

		renderTasks(out, []*task.Record{rec})

		if rec.Status == task.StatusFailed {
			return fmt.Errorf("%w: %s", ErrTaskFailed, lastMessage(rec))
		}

		return nil
	}
}

func lastMessage(rec *task.Record) string {
	if len(rec.Logs) == 0 {
		return ""
	}

	return rec.Logs[len(rec.Logs)-1].Message
}
