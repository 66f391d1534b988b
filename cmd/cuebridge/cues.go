package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/cuebridge/internal/bridge"
	"github.com/danmuck/cuebridge/internal/cues"
	"github.com/danmuck/cuebridge/internal/relay"
	"github.com/spf13/cobra"
)

var pushCuesCmd = &cobra.Command{
	Use:   "cues <file>",
	Short: "Create or update the cues of a YAML cue file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := cues.LoadFile(args[0])
		if err != nil {
			return err
		}
		write, _ := cmd.Flags().GetBool("write")

		return withRelay(cmd, func(ctx context.Context, r *relay.Relay) error {
			result, pushErr := cues.NewPusher(r, r.Session().Dictionary()).Push(ctx, file.Cues)
			// ids assigned before a failure are still worth keeping
			if write && (result.Created > 0 || pushErr == nil) {
				if err := cues.SaveFile(args[0], file); err != nil {
					return err
				}
			}
			if pushErr != nil {
				return pushErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created=%d updated=%d skipped=%d\n", result.Created, result.Updated, result.Skipped)
			return nil
		})
	},
}

var pullCuesCmd = &cobra.Command{
	Use:   "cues <file>",
	Short: "Fill in engine ids for cues matched by number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := cues.LoadFile(args[0])
		if err != nil {
			return err
		}
		write, _ := cmd.Flags().GetBool("write")

		return withRelay(cmd, func(ctx context.Context, r *relay.Relay) error {
			mapping, err := cues.NewPusher(r, r.Session().Dictionary()).Pull(ctx)
			if err != nil {
				return err
			}
			changed := cues.ApplyMapping(file.Cues, mapping)
			if write && changed > 0 {
				if err := cues.SaveFile(args[0], file); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engine_cues=%d matched=%d\n", len(mapping), changed)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{pushCuesCmd, pullCuesCmd} {
		addEngineFlags(cmd)
		cmd.Flags().String("config", "", "bridge config file (TOML)")
		cmd.Flags().Bool("write", false, "write engine ids back into the cue file")
	}
	pushCmd.AddCommand(pushCuesCmd)
	pullCmd.AddCommand(pullCuesCmd)
}

// withRelay connects to the resolved engine for one command.
func withRelay(cmd *cobra.Command, fn func(context.Context, *relay.Relay) error) error {
	cfg, err := resolveServiceConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := bridge.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r)
}
