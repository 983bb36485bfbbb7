// Package match selects artifact versions by name glob and artifact type.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter is the user-facing selection: name globs to keep, name globs to
// drop, and exact artifact types. Empty Names keeps every name; empty
// Types keeps every type.
type Filter struct {
	Names   []string
	Exclude []string
	Types   []string
}

// PatternError reports a glob that doublestar rejects.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid glob %q", e.Pattern)
}

func (e *PatternError) Unwrap() error { return doublestar.ErrBadPattern }

// Selector is a compiled Filter. A nil *Selector selects everything.
type Selector struct {
	names   []string
	exclude []string
	types   map[string]struct{}
}

// Compile validates every glob in f. It returns nil, nil when f selects
// everything.
func Compile(f Filter) (*Selector, error) {
	if len(f.Names) == 0 && len(f.Exclude) == 0 && len(f.Types) == 0 {
		return nil, nil
	}
	for _, p := range append(append([]string(nil), f.Names...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}

	s := &Selector{
		names:   append([]string(nil), f.Names...),
		exclude: append([]string(nil), f.Exclude...),
	}
	if len(s.names) == 0 {
		s.names = []string{"**"}
	}
	if len(f.Types) > 0 {
		s.types = make(map[string]struct{}, len(f.Types))
		for _, t := range f.Types {
			s.types[strings.TrimSpace(t)] = struct{}{}
		}
	}
	return s, nil
}

// Select reports whether an artifact with this name and type is kept.
func (s *Selector) Select(name, artifactType string) bool {
	if s == nil {
		return true
	}
	if s.types != nil {
		if _, ok := s.types[artifactType]; !ok {
			return false
		}
	}
	return anyMatch(s.names, name) && !anyMatch(s.exclude, name)
}

func (s *Selector) String() string {
	if s == nil {
		return "*"
	}
	var b strings.Builder
	b.WriteString(strings.Join(s.names, ","))
	if len(s.exclude) > 0 {
		b.WriteString(" !" + strings.Join(s.exclude, ",!"))
	}
	if len(s.types) > 0 {
		types := make([]string, 0, len(s.types))
		for t := range s.types {
			types = append(types, t)
		}
		sort.Strings(types)
		b.WriteString(" type=" + strings.Join(types, ","))
	}
	return b.String()
}

// anyMatch ignores doublestar errors; Compile has validated the patterns.
func anyMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
