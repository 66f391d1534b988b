package main

import (
	"fmt"

	"github.com/danmuck/cuebridge/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file helpers",
}

var configInitCmd = &cobra.Command{
	Use:       "init <bridge|targets> [path]",
	Short:     "Write a starter config file",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"bridge", "targets"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]
		path := "cuebridge.toml"
		if kind == "targets" {
			p, err := targetsPath(cmd)
			if err != nil {
				return err
			}
			path = p
		}
		if len(args) == 2 {
			path = args[1]
		}
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		if err := config.WriteTemplate(path, kind, overwrite); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("overwrite", false, "replace an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
