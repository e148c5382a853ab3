// Package main provides the entry point for the stope backend CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stopeworks/stope/cmd/stope/commands"
	"github.com/stopeworks/stope/pkg/version"
)

func main() {
	version.Init()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "stope",
		Short: "Stope - multi-project text-mining backend",
		Long: `Stope runs the analysis backend of a text-mining workbench:
background task engine, project artifact store, topic-modeling pipeline,
and hyperparameter experiments.

Commands:
  serve       Run the backend daemon
  project     Create and list projects
  run         Run a topic-modeling or evaluation task
  tasks       Show task records
  experiment  Run and plot hyperparameter experiments`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .stope.yaml in CWD or $HOME)")

	rootCmd.AddCommand(commands.NewServeCommand(&configPath))
	rootCmd.AddCommand(commands.NewProjectCommand(&configPath))
	rootCmd.AddCommand(commands.NewRunCommand(&configPath))
	rootCmd.AddCommand(commands.NewTasksCommand(&configPath))
	rootCmd.AddCommand(commands.NewExperimentCommand(&configPath))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "stope %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
