package sources

import (
	"maps"
	"sync"
)

// MapSource is a mutable in-memory store of raw override values keyed by
// feature name.
type MapSource struct {
	mu     sync.RWMutex
	values map[string]any
	name   string
}

// NewMapSource copies values into a new MapSource.
func NewMapSource(values map[string]any) *MapSource {
	m := make(map[string]any, len(values))
	maps.Copy(m, values)
	return &MapSource{values: m, name: "map"}
}

func (s *MapSource) FeatureState(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name]
}

func (s *MapSource) SourceName() string {
	return s.name
}

// Set stores value for name. It only affects features created afterwards.
func (s *MapSource) Set(name string, value any) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

func (s *MapSource) Delete(name string) {
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}
