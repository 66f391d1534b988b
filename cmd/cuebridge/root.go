package main

import (
	"fmt"
	"os"

	"github.com/danmuck/cuebridge/internal/config"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cuebridge",
	Short: "cuebridge relays OSC between sandboxed scripts and a show-control engine",
	Long: `cuebridge serves a WebSocket endpoint for hosts that cannot open raw sockets
and relays OSC packets to and from a QLab-style engine over UDP, performing the
workspace handshake and reply correlation on their behalf.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a long-running component",
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local data to the engine",
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull engine data into local files",
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cuebridge: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("targets", "", "target store path (default $XDG_CONFIG_HOME/cuebridge/targets.toml)")
	rootCmd.AddCommand(startCmd, pushCmd, pullCmd)
}

// targetsPath resolves the --targets flag or the default store location.
func targetsPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("targets")
	if path != "" {
		return path, nil
	}
	return config.DefaultTargetsPath()
}
