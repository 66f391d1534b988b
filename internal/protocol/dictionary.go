package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Symbol names one protocol action in the address dictionary.
type Symbol string

const (
	SymbolConnect    Symbol = "connect"
	SymbolReply      Symbol = "reply"
	SymbolWorkspace  Symbol = "workspace"
	SymbolWorkspaces Symbol = "workspaces"
	SymbolNew        Symbol = "new"
	SymbolName       Symbol = "name"
	SymbolMode       Symbol = "mode"
	SymbolNumber     Symbol = "number"
	SymbolColor      Symbol = "color"
	SymbolCueLists   Symbol = "cueLists"
	SymbolCueID      Symbol = "cueID"
	SymbolCue        Symbol = "cue"
)

// DictionaryEntry is one symbolic action and its address template.
type DictionaryEntry struct {
	Symbol       Symbol
	Address      string
	ReplyExample string
}

// Dictionary maps symbolic actions to address templates. It is built once and
// only read afterwards.
type Dictionary struct {
	entries map[Symbol]DictionaryEntry
}

// DefaultEntries is the QLab address table.
func DefaultEntries() []DictionaryEntry {
	return []DictionaryEntry{
		{Symbol: SymbolConnect, Address: "/connect", ReplyExample: `{"status":"ok","workspace_id":"<id>","data":"ok:view|edit|control"}`},
		{Symbol: SymbolReply, Address: "/reply"},
		{Symbol: SymbolWorkspace, Address: "/workspace"},
		{Symbol: SymbolWorkspaces, Address: "/workspaces", ReplyExample: `{"status":"ok","data":[{"uniqueID":"<id>","displayName":"show"}]}`},
		{Symbol: SymbolNew, Address: "/new", ReplyExample: `{"status":"ok","data":"<cue id>"}`},
		{Symbol: SymbolName, Address: "/cue/selected/name"},
		{Symbol: SymbolMode, Address: "/cue/selected/mode"},
		{Symbol: SymbolNumber, Address: "/cue/selected/number"},
		{Symbol: SymbolColor, Address: "/cue/selected/colorName"},
		{Symbol: SymbolCueLists, Address: "/cueLists", ReplyExample: `{"status":"ok","data":[{"number":"","uniqueID":"<id>","cues":[]}]}`},
		{Symbol: SymbolCueID, Address: "/cue_id"},
		{Symbol: SymbolCue, Address: "/cue"},
	}
}

// NewDictionary validates entries. Later entries replace earlier ones with the
// same symbol, so callers can overlay a few addresses on DefaultEntries.
func NewDictionary(entries ...DictionaryEntry) (*Dictionary, error) {
	d := &Dictionary{entries: make(map[Symbol]DictionaryEntry, len(entries))}
	for i, entry := range entries {
		if strings.TrimSpace(string(entry.Symbol)) == "" {
			return nil, fmt.Errorf("%w: entries[%d] missing symbol", ErrUnknownSymbol, i)
		}
		if err := ValidateAddress(entry.Address); err != nil {
			return nil, fmt.Errorf("entries[%d] %s: %w", i, entry.Symbol, err)
		}
		d.entries[entry.Symbol] = entry
	}
	if _, ok := d.entries[SymbolReply]; !ok {
		return nil, fmt.Errorf("%w: dictionary has no %q entry", ErrUnknownSymbol, SymbolReply)
	}
	return d, nil
}

// DefaultDictionary returns the QLab table.
func DefaultDictionary() *Dictionary {
	d, err := NewDictionary(DefaultEntries()...)
	if err != nil {
		panic(err)
	}
	return d
}

// Resolve returns the address template registered for symbol.
func (d *Dictionary) Resolve(symbol Symbol) (string, error) {
	entry, ok := d.entries[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return entry.Address, nil
}

// MustResolve panics on a miss; use it only for symbols NewDictionary checked.
func (d *Dictionary) MustResolve(symbol Symbol) string {
	address, err := d.Resolve(symbol)
	if err != nil {
		panic(err)
	}
	return address
}

func (d *Dictionary) Entry(symbol Symbol) (DictionaryEntry, bool) {
	entry, ok := d.entries[symbol]
	return entry, ok
}

// Symbols lists registered symbols in lexical order.
func (d *Dictionary) Symbols() []Symbol {
	out := make([]Symbol, 0, len(d.entries))
	for symbol := range d.entries {
		out = append(out, symbol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplyPrefix is the address prefix the engine answers on.
func (d *Dictionary) ReplyPrefix() string {
	return d.entries[SymbolReply].Address
}

// ReplyAddress maps a request address to the address its reply arrives on.
func (d *Dictionary) ReplyAddress(address string) string {
	return d.ReplyPrefix() + address
}

// IsReply reports whether address carries a response under the reply prefix.
func (d *Dictionary) IsReply(address string) bool {
	prefix := d.ReplyPrefix()
	return address == prefix || strings.HasPrefix(address, prefix+"/")
}

// ReplyPattern is the wildcard pattern a request sent to address listens on.
func (d *Dictionary) ReplyPattern(address string) MatchPattern {
	return WildcardPattern(d.ReplyAddress(address))
}
