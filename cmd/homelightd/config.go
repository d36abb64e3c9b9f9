package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/ui"
)

// Config init flags
var (
	initForce    bool
	initSimulate int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Example: `  # Start with two simulated lights to try the API
  homelightd config init --simulate 2`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with defaults applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	configInitCmd.Flags().IntVar(&initSimulate, "simulate", 0, "Add this many simulated lights")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}

	cfg := config.NewDefault()
	addSimulated(cfg, initSimulate)
	if err := cfg.Save(path); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Config written",
		ui.Param{Key: "Path", Value: path},
		ui.Param{Key: "Devices", Value: strconv.Itoa(len(cfg.Devices))},
		ui.Param{Key: "Listen", Value: cfg.HTTP.Addr()},
	)
	return nil
}
