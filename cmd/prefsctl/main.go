// Package main is the entry point for the prefsctl CLI.
//
// prefsctl reads and writes the preferences declared in a prefstore
// configuration file, watches them for changes, and serves them over HTTP.
//
// Usage:
//
//	prefsctl serve -c prefs.yaml          # Start the HTTP API
//	prefsctl list -c prefs.yaml           # Show every declared preference
//	prefsctl set -c prefs.yaml theme DARK # Store a value
//	prefsctl watch -c prefs.yaml theme    # Print values as they change
//	prefsctl version                      # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/config"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "prefsctl",
	Short: "Inspect, edit and serve typed preferences",
	Long: `prefsctl manages the preferences declared in a prefstore configuration file.

Without --config an in-memory store with no declared preferences is used,
which is mostly useful for trying the HTTP API.

Example config:
  storage:
    driver: sqlite
    path: ./prefs.db
  preferences:
    - key: dark_mode
      kind: bool
    - key: appearance.theme
      kind: string
      default: SYSTEM
      allowed_values: [SYSTEM, LIGHT, DARK]`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "prefsctl %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML or TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the --config file, or returns the defaults when none is given,
// and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// openStore builds the store described by the command's configuration.
func openStore(cmd *cobra.Command) (*prefstore.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	level, err := prefstore.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := prefstore.NewLogger(cmd.ErrOrStderr(), level)

	store, err := config.Build(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, cfg, nil
}
