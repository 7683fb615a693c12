package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/corral-dev/corral/internal/config"
	"github.com/corral-dev/corral/internal/log"
	"github.com/corral-dev/corral/internal/model"
	"github.com/spf13/cobra"
)

var (
	configPath string // actual config file resolved at startup
	cfg        model.Config

	flagConfigFilePath string
	flagVerbose        bool
)

var rootCmd = &cobra.Command{
	Use:          "corral",
	Short:        "corral launches, observes, and controls a fleet of local processes",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load - default is corral.yaml in the user config directory, then in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initCorral

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// initCorral resolves the config path, bootstrapping a default file
// when none is found, loads and validates it, and wires up slog. It
// skips config resolution for "version", which has nothing to read.
func initCorral(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	path, found, err := config.ResolvePath(flagConfigFilePath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if !found {
		if err := config.Bootstrap(path); err != nil {
			return fmt.Errorf("bootstrapping default config: %w", err)
		}
	}
	configPath = path

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}
	cfg = loaded

	logger := log.New(flagVerbose).With("configPath", configPath, "pid", os.Getpid())
	slog.SetDefault(logger)
	slog.Debug("corral starting", "runnables", len(cfg.Runnables))
	return nil
}
