package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template returns a starter file for kind: "bridge" or "targets".
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "targets":
		return targetsTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `listen_addr = "127.0.0.1:8080"
engine_host = "localhost"
engine_port = 53000
reply_port = 53001
reply_timeout = "30s"
# 0 retries until interrupted
handshake_attempts = 5
metrics = true
token = ""
`

const targetsTemplate = `default = "default"

[targets.default]
host = "localhost"
port = 53000
password = ""
`
