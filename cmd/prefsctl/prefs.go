package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CreativeUnicorns/prefstore"
)

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the value of a preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		pref, err := store.Preference(args[0])
		if err != nil {
			return err
		}
		v, err := pref.Get(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a preference value",
	Long: `Store a preference value. VALUE is parsed according to the declared kind;
string sets are given as comma-separated members.

Example:
  prefsctl set -c prefs.yaml dark_mode true
  prefsctl set -c prefs.yaml tags a,b,c`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		def, ok := store.Definition(args[0])
		if !ok {
			return fmt.Errorf("%w: %q is not defined", prefstore.ErrNotFound, args[0])
		}
		v, err := prefstore.ParseValueString(def.Kind, args[1])
		if err != nil {
			return err
		}
		pref, err := store.Preference(def.Key)
		if err != nil {
			return err
		}
		return pref.Set(cmd.Context(), v)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Remove a stored value so the default applies again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		pref, err := store.Preference(args[0])
		if err != nil {
			return err
		}
		return pref.Delete(cmd.Context())
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Clear(cmd.Context())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every declared preference with its current value",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, clearCmd, listCmd)

	listCmd.Flags().StringP("group", "g", "", "only show preferences of this group")
}

func runList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	group, _ := cmd.Flags().GetString("group")

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tKIND\tVALUE\tSET\tDESCRIPTION")
	for _, def := range store.Definitions() {
		if group != "" && def.Group != group {
			continue
		}
		pref, err := store.Preference(def.Key)
		if err != nil {
			return err
		}
		v, err := pref.Get(cmd.Context())
		if err != nil {
			return err
		}
		isSet, err := pref.IsSet(cmd.Context())
		if err != nil {
			return err
		}
		marker := "-"
		if isSet {
			marker = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", def.Key, def.Kind, v, marker, strings.TrimSpace(def.Description))
	}
	return tw.Flush()
}
