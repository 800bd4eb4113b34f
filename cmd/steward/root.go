package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/logging"
)

var (
	cfgFile   string
	debug     bool
	logFormat string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "steward",
		Short:         "steward runs agent cycles and surfaces what needs attention",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", filepath.Join(config.Dir, "config.yaml"), "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "log output format (console, json)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return logging.Setup(logging.Options{Debug: debug, Format: logFormat})
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(cyclesCmd())
	rootCmd.AddCommand(threadsCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
