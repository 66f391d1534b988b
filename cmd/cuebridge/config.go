package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cuebridge/internal/bridge"
)

type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	EngineHost        string   `toml:"engine_host"`
	EnginePort        int      `toml:"engine_port"`
	EnginePassword    string   `toml:"engine_password"`
	ReplyPort         int      `toml:"reply_port"`
	ReplyTimeout      string   `toml:"reply_timeout"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	HandshakeAttempts int      `toml:"handshake_attempts"`
	Heartbeat         string   `toml:"heartbeat"`
	Token             string   `toml:"token"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	Metrics           bool     `toml:"metrics"`
}

func loadServiceConfig(path string) (bridge.ServiceConfig, error) {
	cfg := bridge.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridge.ServiceConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return bridge.ServiceConfig{}, fmt.Errorf("load bridge config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("engine_host") {
		cfg.Engine.Host = strings.TrimSpace(raw.EngineHost)
	}

	if meta.IsDefined("engine_port") {
		cfg.Engine.Port = raw.EnginePort
	}

	if meta.IsDefined("engine_password") {
		cfg.Password = raw.EnginePassword
	}

	if meta.IsDefined("reply_port") {
		cfg.Engine.LocalAddr = ":" + strconv.Itoa(raw.ReplyPort)
	}

	if meta.IsDefined("reply_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReplyTimeout))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse reply_timeout: %w", err)
		}
		cfg.Session.ReplyTimeout = d
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Session.HandshakeTimeout = d
	}

	if meta.IsDefined("handshake_attempts") {
		cfg.HandshakeAttempts = raw.HandshakeAttempts
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}

	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}

	if meta.IsDefined("metrics") {
		cfg.Metrics = raw.Metrics
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
