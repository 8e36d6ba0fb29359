package admin

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/maxpert/muster/membership"
)

// roleFilter matches role names against glob patterns.
// No patterns match everything.
type roleFilter struct {
	globs []glob.Glob
}

func newRoleFilter(patterns []string) (*roleFilter, error) {
	f := &roleFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid role pattern %q: %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

func (f *roleFilter) Match(role membership.RoleName) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(string(role)) {
			return true
		}
	}
	return false
}
