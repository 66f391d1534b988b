package cues

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/danmuck/cuebridge/internal/protocol"
	"gopkg.in/yaml.v3"
)

const (
	DefaultType = "memo"
	GroupType   = "group"

	// groupModeTimeline is the engine's "start all children simultaneously".
	groupModeTimeline = 1
)

var (
	ErrInvalidCue = errors.New("cues: invalid cue")
	ErrNoCues     = errors.New("cues: file has no cues")
)

// Cue is one cue as authored in a cue file. ID is empty until the engine
// assigns one.
type Cue struct {
	Number string `yaml:"number,omitempty"`
	Name   string `yaml:"name,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Mode   *int   `yaml:"mode,omitempty"`
	Color  string `yaml:"color,omitempty"`
	ID     string `yaml:"id,omitempty"`
}

// File is the on-disk cue file.
type File struct {
	Cues []Cue `yaml:"cues"`
}

func (c Cue) IsNew() bool {
	return strings.TrimSpace(c.ID) == ""
}

func (c Cue) WithDefaults() Cue {
	if strings.TrimSpace(c.Type) == "" {
		c.Type = DefaultType
	}
	if c.Type == GroupType && c.Mode == nil {
		mode := groupModeTimeline
		c.Mode = &mode
	}
	return c
}

func (c Cue) Validate() error {
	if strings.ContainsAny(c.ID, "/ #,") {
		return fmt.Errorf("%w: id %q contains address characters", ErrInvalidCue, c.ID)
	}
	if strings.ContainsAny(c.Type, "/ ") {
		return fmt.Errorf("%w: type %q", ErrInvalidCue, c.Type)
	}
	if c.Mode != nil && (*c.Mode < 0 || *c.Mode > 4) {
		return fmt.Errorf("%w: mode %d out of range", ErrInvalidCue, *c.Mode)
	}
	return nil
}

// Actions builds the request batch that pushes c. A new cue is created with
// /new <type>, whose reply carries the engine id, and its properties are set
// on the selected cue the engine just created. An existing cue only gets
// property updates addressed by id. All requests are workspace scoped.
func (c Cue) Actions(dict *protocol.Dictionary) ([]protocol.Request, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var reqs []protocol.Request
	if c.IsNew() {
		address, err := dict.Resolve(protocol.SymbolNew)
		if err != nil {
			return nil, err
		}
		msg, err := protocol.NewMessage(address, c.Type)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, protocol.Request{Message: msg, ExpectReply: true, Scoped: true})
	}

	properties := []struct {
		symbol protocol.Symbol
		value  any
		set    bool
	}{
		{protocol.SymbolName, c.Name, c.Name != ""},
		{protocol.SymbolNumber, c.Number, c.Number != ""},
		{protocol.SymbolMode, modeArg(c.Mode), c.Mode != nil},
		{protocol.SymbolColor, c.Color, c.Color != ""},
	}
	for _, prop := range properties {
		if !prop.set {
			continue
		}
		address, err := c.propertyAddress(dict, prop.symbol)
		if err != nil {
			return nil, err
		}
		msg, err := protocol.NewMessage(address, prop.value)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, protocol.Request{Message: msg, Scoped: true})
	}
	return reqs, nil
}

// propertyAddress maps a selected-cue property address onto the cue's id
// address when the cue already exists: /cue/selected/name -> /cue_id/<id>/name.
func (c Cue) propertyAddress(dict *protocol.Dictionary, symbol protocol.Symbol) (string, error) {
	address, err := dict.Resolve(symbol)
	if err != nil {
		return "", err
	}
	if c.IsNew() {
		return address, nil
	}
	byID, err := dict.Resolve(protocol.SymbolCueID)
	if err != nil {
		return "", err
	}
	return byID + "/" + c.ID + "/" + path.Base(address), nil
}

func modeArg(mode *int) any {
	if mode == nil {
		return nil
	}
	return int32(*mode)
}

// Parse decodes a cue file. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return File{}, fmt.Errorf("cue file parse failed: %w", err)
	}
	if len(file.Cues) == 0 {
		return File{}, ErrNoCues
	}
	for i, cue := range file.Cues {
		if err := cue.Validate(); err != nil {
			return File{}, fmt.Errorf("cues[%d]: %w", i, err)
		}
	}
	return file, nil
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("cue file load failed (%s): %w", path, err)
	}
	return Parse(data)
}

// SaveFile writes file back, keeping engine ids assigned during a push.
func SaveFile(path string, file File) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("cue file encode failed (%s): %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("cue file encode failed (%s): %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("cue file save failed (%s): %w", path, err)
	}
	return nil
}
