// Package filter narrows a described instance set for display.
// It never feeds an expiration pass, which always sees every instance.
package filter

import (
	"fmt"
	"strings"

	"github.com/yairfalse/lapse/pkg/resource"
)

// Filter selects instances by lifecycle state and tags.
type Filter struct {
	states      map[string]bool
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a Filter. An empty state list matches every state.
func New(states []string, includeTags, excludeTags map[string]string) *Filter {
	stateMap := make(map[string]bool, len(states))
	for _, s := range states {
		stateMap[strings.ToLower(strings.TrimSpace(s))] = true
	}

	return &Filter{
		states:      stateMap,
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Match reports whether r passes the filter. Every include tag must be
// present with its value, and any matching exclude tag rejects r.
func (f *Filter) Match(r resource.Resource) bool {
	if len(f.states) > 0 && !f.states[r.State] {
		return false
	}

	for k, v := range f.includeTags {
		if got, ok := r.Tag(k); !ok || got != v {
			return false
		}
	}

	for k, v := range f.excludeTags {
		if got, ok := r.Tag(k); ok && got == v {
			return false
		}
	}

	return true
}

// Apply returns only the resources that pass the filter.
func (f *Filter) Apply(resources []resource.Resource) []resource.Resource {
	if f.IsEmpty() {
		return resources
	}

	filtered := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.Match(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.states) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}

// ParseTags parses key=value pairs as given on the command line.
func ParseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag filter %q: want key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}
