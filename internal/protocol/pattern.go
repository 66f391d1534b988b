package protocol

import (
	"fmt"
	"strings"
)

const wildcardSuffix = "/*"

// PatternKind tags a MatchPattern variant.
type PatternKind int

const (
	PatternExact PatternKind = iota
	PatternWildcard
)

func (k PatternKind) String() string {
	switch k {
	case PatternExact:
		return "exact"
	case PatternWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// MatchPattern selects reply addresses. An exact pattern matches one address;
// a wildcard pattern matches its prefix and every sub-path beneath it.
type MatchPattern struct {
	kind   PatternKind
	prefix string
}

func ExactPattern(address string) MatchPattern {
	return MatchPattern{kind: PatternExact, prefix: address}
}

// WildcardPattern matches prefix itself and anything under prefix+"/".
func WildcardPattern(prefix string) MatchPattern {
	return MatchPattern{kind: PatternWildcard, prefix: strings.TrimSuffix(prefix, "/")}
}

// ParsePattern reads the textual form: a trailing "/*" makes it a wildcard.
func ParsePattern(raw string) (MatchPattern, error) {
	if strings.HasSuffix(raw, wildcardSuffix) {
		prefix := strings.TrimSuffix(raw, wildcardSuffix)
		if err := ValidateAddress(prefix); err != nil {
			return MatchPattern{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return WildcardPattern(prefix), nil
	}
	if strings.Contains(raw, "*") {
		return MatchPattern{}, fmt.Errorf("%w: %q wildcard only allowed as trailing /*", ErrInvalidPattern, raw)
	}
	if err := ValidateAddress(raw); err != nil {
		return MatchPattern{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return ExactPattern(raw), nil
}

func (p MatchPattern) Kind() PatternKind {
	return p.kind
}

func (p MatchPattern) Prefix() string {
	return p.prefix
}

func (p MatchPattern) IsZero() bool {
	return p.prefix == ""
}

func (p MatchPattern) Matches(address string) bool {
	switch p.kind {
	case PatternExact:
		return address == p.prefix
	case PatternWildcard:
		return address == p.prefix || strings.HasPrefix(address, p.prefix+"/")
	default:
		return false
	}
}

// Specificity orders overlapping patterns: a longer prefix is more specific,
// and at equal length an exact pattern beats a wildcard.
func (p MatchPattern) Specificity() int {
	score := 2 * len(p.prefix)
	if p.kind == PatternExact {
		score++
	}
	return score
}

// MoreSpecificThan reports whether p should win a reply both patterns match.
func (p MatchPattern) MoreSpecificThan(other MatchPattern) bool {
	return p.Specificity() > other.Specificity()
}

// Overlaps reports whether some address could match both patterns.
func (p MatchPattern) Overlaps(other MatchPattern) bool {
	switch {
	case p.kind == PatternExact:
		return other.Matches(p.prefix)
	case other.kind == PatternExact:
		return p.Matches(other.prefix)
	default:
		return p.Matches(other.prefix) || other.Matches(p.prefix)
	}
}

func (p MatchPattern) String() string {
	if p.kind == PatternWildcard {
		return p.prefix + wildcardSuffix
	}
	return p.prefix
}
