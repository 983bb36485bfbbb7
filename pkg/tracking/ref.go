package tracking

import (
	"fmt"
	"strings"

	"github.com/3leaps/cleanstep/pkg/registry"
)

// Ref is a parsed name:version_or_alias artifact reference.
type Ref struct {
	Name     string
	Selector string
}

// ParseRef parses s. A bare name selects the "latest" alias.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	name, selector := s, ""
	if i := strings.LastIndex(s, ":"); i >= 0 {
		name, selector = s[:i], s[i+1:]
		if selector == "" {
			return Ref{}, fmt.Errorf("%q: empty version or alias: %w", s, ErrInvalidRef)
		}
	}
	if err := validateName(name); err != nil {
		return Ref{}, fmt.Errorf("%q: %v: %w", s, err, ErrInvalidRef)
	}
	if selector == "" {
		selector = registry.AliasLatest
	}
	return Ref{Name: name, Selector: selector}, nil
}

func (r Ref) String() string {
	return r.Name + ":" + r.Selector
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("artifact name %q must not contain path separators", name)
	}
	return nil
}
