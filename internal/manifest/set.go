package manifest

import (
	"errors"
	"fmt"

	"github.com/matt-riley/semflagz/internal/core"
)

var ErrUnknownFeature = errors.New("unknown feature")

// Set is a registry populated from a manifest, with lookups restricted to
// the declared names.
type Set struct {
	registry *core.Registry
	entries  map[string]Entry
	features map[string]*core.Feature
	order    []string
}

// Bind registers every manifest entry on registry.
func Bind(registry *core.Registry, m Manifest) (*Set, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}

	set := &Set{
		registry: registry,
		entries:  make(map[string]Entry, len(m.Features)),
		features: make(map[string]*core.Feature, len(m.Features)),
		order:    make([]string, 0, len(m.Features)),
	}

	for _, entry := range m.Features {
		feature, err := registry.Register(entry.Name, entry.VersionRange)
		if err != nil {
			return nil, fmt.Errorf("bind %q: %w", entry.Name, err)
		}
		if _, seen := set.entries[entry.Name]; !seen {
			set.order = append(set.order, entry.Name)
		}
		set.entries[entry.Name] = entry
		set.features[entry.Name] = feature
	}

	return set, nil
}

// Get returns the feature declared as name.
func (s *Set) Get(name string) (*core.Feature, error) {
	feature, ok := s.features[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	return feature, nil
}

// IsEnabled reports false for undeclared names.
func (s *Set) IsEnabled(name string) bool {
	feature, ok := s.features[name]
	return ok && feature.IsEnabled()
}

// Entry returns the manifest declaration for name.
func (s *Set) Entry(name string) (Entry, bool) {
	entry, ok := s.entries[name]
	return entry, ok
}

// All returns the declared features in manifest order.
func (s *Set) All() []*core.Feature {
	features := make([]*core.Feature, 0, len(s.order))
	for _, name := range s.order {
		features = append(features, s.features[name])
	}
	return features
}

func (s *Set) Registry() *core.Registry {
	return s.registry
}
