package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/cuebridge/internal/config"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage saved engine targets",
}

var targetsAddCmd = &cobra.Command{
	Use:   "add [alias]",
	Short: "Add or replace a target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alias := config.DefaultAlias
		if len(args) == 1 {
			alias = args[0]
		}
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		password, _ := cmd.Flags().GetString("password")
		makeDefault, _ := cmd.Flags().GetBool("default")

		return updateTargets(cmd, func(store *config.Targets) error {
			return store.Set(alias, config.Target{Host: host, Port: port, Password: password}, makeDefault)
		})
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := targetsPath(cmd)
		if err != nil {
			return err
		}
		store, err := config.LoadTargets(path)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ALIAS\tHOST\tPORT\tPASSWORD\tDEFAULT")
		for _, t := range store.List() {
			password := ""
			if t.Password != "" {
				password = "set"
			}
			marker := ""
			if t.Default {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.Alias, t.Host, t.Port, password, marker)
		}
		return w.Flush()
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <alias>",
	Short: "Remove a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTargets(cmd, func(store *config.Targets) error {
			return store.Remove(args[0])
		})
	},
}

var targetsDefaultCmd = &cobra.Command{
	Use:   "default <alias>",
	Short: "Set the default target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTargets(cmd, func(store *config.Targets) error {
			return store.SetDefault(args[0])
		})
	},
}

func init() {
	targetsAddCmd.Flags().String("host", config.DefaultEngineHost, "engine host")
	targetsAddCmd.Flags().IntP("port", "p", config.DefaultEnginePort, "engine OSC port")
	targetsAddCmd.Flags().String("password", "", "workspace passcode")
	targetsAddCmd.Flags().BoolP("default", "d", false, "set as default target")

	targetsCmd.AddCommand(targetsAddCmd, targetsListCmd, targetsRemoveCmd, targetsDefaultCmd)
	rootCmd.AddCommand(targetsCmd)
}

func updateTargets(cmd *cobra.Command, mutate func(*config.Targets) error) error {
	path, err := targetsPath(cmd)
	if err != nil {
		return err
	}
	store, err := config.LoadTargets(path)
	if err != nil {
		return err
	}
	if err := mutate(&store); err != nil {
		return err
	}
	if err := config.SaveTargets(path, store); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "targets saved to %s\n", path)
	return nil
}
