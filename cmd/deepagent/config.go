package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/config"
)

var (
	configInitGlobal bool
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or create deepagent configuration.

Configuration is merged from built-in defaults, ~/.deepagent/config.yaml,
.deepagent/config.yaml in the current directory, DEEPAGENT_* environment
variables (DEEPAGENT_LLM_PROVIDER sets llm.provider) and the --config file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ProjectPath
		if configInitGlobal {
			p, err := config.GlobalPath()
			if err != nil {
				return err
			}
			path = p
		}
		if err := initConfig(path, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", okMark(), path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitGlobal, "global", false, "Write ~/.deepagent/config.yaml instead of the project config")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// showConfig prints cfg as YAML with the API key masked.
func showConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "****"
	}
	data, err := config.Marshal(&masked)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// initConfig writes the default configuration to path.
func initConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return config.Save(config.Default(), path)
}
