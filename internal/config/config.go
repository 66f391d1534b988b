package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultAlias      = "default"
	DefaultEngineHost = "localhost"
	DefaultEnginePort = 53000

	targetsDir  = "cuebridge"
	targetsFile = "targets.toml"
)

var (
	ErrAliasRequired   = errors.New("config: alias required")
	ErrTargetNotFound  = errors.New("config: target not found")
	ErrNoDefaultTarget = errors.New("config: alias not given and no default target set")
	ErrInvalidTarget   = errors.New("config: invalid target")
)

// Target is one saved engine endpoint.
type Target struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password,omitempty"`
}

// NamedTarget pairs a target with its alias for listing.
type NamedTarget struct {
	Alias   string
	Default bool
	Target
}

// Targets is the on-disk target store.
type Targets struct {
	Default string            `toml:"default,omitempty"`
	Targets map[string]Target `toml:"targets"`
}

func (t Target) WithDefaults() Target {
	if strings.TrimSpace(t.Host) == "" {
		t.Host = DefaultEngineHost
	}
	if t.Port == 0 {
		t.Port = DefaultEnginePort
	}
	return t
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidTarget)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port)
	}
	return nil
}

// DefaultTargetsPath is $XDG_CONFIG_HOME/cuebridge/targets.toml, falling back
// to ~/.config/cuebridge/targets.toml.
func DefaultTargetsPath() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, targetsDir, targetsFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config path resolve failed: %w", err)
	}
	return filepath.Join(home, ".config", targetsDir, targetsFile), nil
}

// LoadTargets reads the store at path. A missing file is an empty store.
func LoadTargets(path string) (Targets, error) {
	var store Targets
	if err := loadToml(path, &store); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Targets{Targets: map[string]Target{}}, nil
		}
		return Targets{}, err
	}
	if store.Targets == nil {
		store.Targets = map[string]Target{}
	}
	for alias, target := range store.Targets {
		if err := target.Validate(); err != nil {
			return Targets{}, fmt.Errorf("target[%s] invalid: %w", alias, err)
		}
	}
	if store.Default != "" {
		if _, ok := store.Targets[store.Default]; !ok {
			return Targets{}, fmt.Errorf("%w: default %q", ErrTargetNotFound, store.Default)
		}
	}
	return store, nil
}

// SaveTargets writes the store, creating the directory. The file holds
// engine passwords, so it is private to the user.
func SaveTargets(path string, store Targets) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config save failed (%s): %w", path, err)
	}
	data, err := toml.Marshal(store)
	if err != nil {
		return fmt.Errorf("config encode failed (%s): %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config save failed (%s): %w", path, err)
	}
	return nil
}

// Set adds or replaces alias. The first target saved becomes the default.
func (s *Targets) Set(alias string, target Target, makeDefault bool) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return ErrAliasRequired
	}
	target = target.WithDefaults()
	if err := target.Validate(); err != nil {
		return err
	}
	if s.Targets == nil {
		s.Targets = map[string]Target{}
	}
	s.Targets[alias] = target
	if makeDefault || s.Default == "" {
		s.Default = alias
	}
	return nil
}

// Get resolves alias, or the default target when alias is empty.
func (s Targets) Get(alias string) (string, Target, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		if s.Default == "" {
			return "", Target{}, ErrNoDefaultTarget
		}
		alias = s.Default
	}
	target, ok := s.Targets[alias]
	if !ok {
		return "", Target{}, fmt.Errorf("%w: %q", ErrTargetNotFound, alias)
	}
	return alias, target, nil
}

func (s *Targets) Remove(alias string) error {
	if _, ok := s.Targets[alias]; !ok {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, alias)
	}
	delete(s.Targets, alias)
	if s.Default == alias {
		s.Default = ""
	}
	return nil
}

func (s *Targets) SetDefault(alias string) error {
	if _, ok := s.Targets[alias]; !ok {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, alias)
	}
	s.Default = alias
	return nil
}

// List returns targets sorted by alias.
func (s Targets) List() []NamedTarget {
	out := make([]NamedTarget, 0, len(s.Targets))
	for alias, target := range s.Targets {
		out = append(out, NamedTarget{Alias: alias, Default: alias == s.Default, Target: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
