package main

import (
	"errors"
	"strings"

	"github.com/danmuck/cuebridge/internal/bridge"
	"github.com/danmuck/cuebridge/internal/config"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/spf13/cobra"
)

var startBridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the WebSocket relay for one engine",
	Long: `Opens the engine channel, authenticates against the workspace, and serves
WebSocket clients on /osc until interrupted.

Settings are layered: built-in defaults, then --config, then the saved target
(--alias, or the default target), then explicit flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveServiceConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := bridge.NewServiceWithConfig(cfg)
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

func init() {
	addEngineFlags(startBridgeCmd)
	startBridgeCmd.Flags().String("config", "", "bridge config file (TOML)")
	startBridgeCmd.Flags().String("listen", "", "WebSocket listen address")
	startBridgeCmd.Flags().String("token", "", "shared token required from WebSocket clients")
	startCmd.AddCommand(startBridgeCmd)
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("alias", "a", "", "saved target alias (default target when empty)")
	cmd.Flags().String("host", "", "engine host")
	cmd.Flags().IntP("port", "p", 0, "engine OSC port")
	cmd.Flags().String("password", "", "workspace passcode")
}

func resolveServiceConfig(cmd *cobra.Command) (bridge.ServiceConfig, error) {
	cfg := bridge.DefaultServiceConfig()
	if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Value.String() != "" {
		loaded, err := loadServiceConfig(flag.Value.String())
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg = loaded
	}

	if err := applyTarget(cmd, &cfg); err != nil {
		return bridge.ServiceConfig{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Engine.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Engine.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("password") {
		cfg.Password, _ = flags.GetString("password")
	}
	if flag := flags.Lookup("listen"); flag != nil && flags.Changed("listen") {
		cfg.ListenAddr = flag.Value.String()
	}
	if flag := flags.Lookup("token"); flag != nil && flags.Changed("token") {
		cfg.Token = flag.Value.String()
	}
	return cfg, nil
}

// applyTarget copies the saved target into cfg. Without --alias a missing
// default target is not an error; the config file or flags name the engine.
func applyTarget(cmd *cobra.Command, cfg *bridge.ServiceConfig) error {
	path, err := targetsPath(cmd)
	if err != nil {
		return err
	}
	store, err := config.LoadTargets(path)
	if err != nil {
		return err
	}
	alias, _ := cmd.Flags().GetString("alias")
	alias = strings.TrimSpace(alias)

	name, target, err := store.Get(alias)
	if err != nil {
		if alias == "" && errors.Is(err, config.ErrNoDefaultTarget) {
			return nil
		}
		return err
	}
	cfg.Engine.Host = target.Host
	cfg.Engine.Port = target.Port
	cfg.Password = target.Password
	logging.Debugf("cuebridge.applyTarget alias=%q host=%q port=%d", name, target.Host, target.Port)
	return nil
}
