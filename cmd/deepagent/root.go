package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deepagent",
	Short: "Developer skill analysis over git history",
	Long: `deepagent clones one or more repositories, evaluates their commit history
with a pipeline of agents and writes a report of each developer's work.

Every agent result is persisted under <work_dir>/<task>/results, so a task
can be inspected while it runs and resumed after a failure.`,
	SilenceUsage: true,
	Version:      version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file applied over the global and project config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadDefault(configPath)
}
