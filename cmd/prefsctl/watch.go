package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch KEY",
	Short: "Print a preference's value and every later change",
	Long: `Print the current value of a preference, then one line per change until
interrupted. Changes made by other processes are seen when the storage driver
supports them (file, postgres, redis).

Example:
  prefsctl watch -c prefs.yaml dark_mode
  prefsctl watch -c prefs.yaml dark_mode --count 2`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Int("count", 0, "exit after printing this many values (0 means no limit)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	pref, err := store.Preference(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("count")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := pref.Changes(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	printed := 0
	for v := range stream.C() {
		fmt.Fprintln(cmd.OutOrStdout(), v)
		printed++
		if limit > 0 && printed >= limit {
			return nil
		}
	}
	return stream.Err()
}
