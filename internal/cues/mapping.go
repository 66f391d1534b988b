package cues

import (
	"strings"

	"github.com/danmuck/cuebridge/internal/protocol"
)

// ListEntry is one node of the engine's cue list tree. Cue lists and group
// cues nest their children under Cues.
type ListEntry struct {
	Number   string      `json:"number"`
	UniqueID string      `json:"uniqueID"`
	Name     string      `json:"name,omitempty"`
	ListName string      `json:"listName,omitempty"`
	Type     string      `json:"type,omitempty"`
	Cues     []ListEntry `json:"cues,omitempty"`
}

// MappingFromReply decodes a /cueLists reply. The data may be a single list
// or an array of lists.
func MappingFromReply(reply protocol.ReplyOK) (map[string]string, error) {
	var lists []ListEntry
	if err := reply.Unmarshal(&lists); err != nil {
		var single ListEntry
		if errSingle := reply.Unmarshal(&single); errSingle != nil {
			return nil, err
		}
		lists = []ListEntry{single}
	}
	return Mapping(lists), nil
}

// Mapping walks the tree depth first. Entries without a number are not
// mapped but their children are; a later duplicate number wins.
func Mapping(lists []ListEntry) map[string]string {
	out := make(map[string]string)
	var walk func([]ListEntry)
	walk = func(entries []ListEntry) {
		for _, entry := range entries {
			walk(entry.Cues)
			if number := strings.TrimSpace(entry.Number); number != "" && entry.UniqueID != "" {
				out[number] = entry.UniqueID
			}
		}
	}
	for _, list := range lists {
		walk(list.Cues)
	}
	return out
}

// ApplyMapping fills in ids for cues whose number is known to the engine.
// It returns how many cues changed.
func ApplyMapping(list []Cue, mapping map[string]string) int {
	changed := 0
	for i := range list {
		if !list[i].IsNew() || list[i].Number == "" {
			continue
		}
		if id, ok := mapping[list[i].Number]; ok {
			list[i].ID = id
			changed++
		}
	}
	return changed
}
