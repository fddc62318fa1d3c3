package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// RegistryOptions configures NewRegistry. Version is required.
type RegistryOptions struct {
	Version string
	Sources []StateSource
	Logger  *slog.Logger
}

// FeatureInfo is one row of Registry.DumpFeatures.
type FeatureInfo struct {
	Name        string       `json:"name"`
	Enabled     bool         `json:"enabled"`
	Requirement Availability `json:"requirement"`
	DecidedBy   string       `json:"decided_by"`
}

// Registry owns the current version and the source list and hands out one
// Feature per name. Features are never evicted.
type Registry struct {
	version *semver.Version
	raw     string
	sources []StateSource
	logger  *slog.Logger

	mu       sync.RWMutex
	features map[string]*Feature
	order    []string
}

// NewRegistry validates opts.Version and initializes every source that
// implements Initializer, in order, before returning.
func NewRegistry(ctx context.Context, opts RegistryOptions) (*Registry, error) {
	version, err := ParseVersion(opts.Version)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sources := make([]StateSource, len(opts.Sources))
	copy(sources, opts.Sources)

	for i, source := range sources {
		initializer, ok := source.(Initializer)
		if !ok {
			continue
		}
		if err := initializer.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", sourceName(i, source), err)
		}
	}

	return &Registry{
		version:  version,
		raw:      opts.Version,
		sources:  sources,
		logger:   logger,
		features: make(map[string]*Feature),
	}, nil
}

// CurrentVersion returns the version string the registry was built with.
func (r *Registry) CurrentVersion() string {
	return r.raw
}

// Register returns the feature called name, creating it from requirement on
// first use. Later calls ignore requirement. A malformed requirement is only
// an error when the feature is being created.
func (r *Registry) Register(name, requirement string) (*Feature, error) {
	if feature, ok := r.lookupExisting(name, requirement); ok {
		return feature, nil
	}

	availability, err := ParseRequirement(requirement)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}
	return r.RegisterAvailability(name, availability)
}

// RegisterBool registers a feature with a fixed boolean requirement.
func (r *Registry) RegisterBool(name string, enabled bool) *Feature {
	feature, err := r.RegisterAvailability(name, Bool(enabled))
	if err != nil {
		// A boolean requirement always resolves.
		panic(err)
	}
	return feature
}

// RegisterAvailability is Register for an already parsed requirement.
func (r *Registry) RegisterAvailability(name string, requirement Availability) (*Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.features[name]; ok {
		r.logMismatch(existing, requirement.String())
		return existing, nil
	}

	feature, err := newFeature(name, requirement, r.version, r.sources)
	if err != nil {
		return nil, err
	}

	r.features[name] = feature
	r.order = append(r.order, name)

	r.logger.Debug("feature registered",
		"feature", name,
		"requirement", requirement.String(),
		"enabled", feature.IsEnabled(),
		"decided_by", feature.DecidedBy(),
	)

	return feature, nil
}

func (r *Registry) lookupExisting(name, requirement string) (*Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feature, ok := r.features[name]
	if ok {
		if normalized, err := ParseRequirement(requirement); err == nil {
			requirement = normalized.String()
		}
		r.logMismatch(feature, requirement)
	}
	return feature, ok
}

func (r *Registry) logMismatch(existing *Feature, requirement string) {
	if existing.requirement.String() == requirement {
		return
	}
	r.logger.Debug("feature already registered with a different requirement",
		"feature", existing.name,
		"registered", existing.requirement.String(),
		"ignored", requirement,
	)
}

// Lookup returns a previously registered feature.
func (r *Registry) Lookup(name string) (*Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feature, ok := r.features[name]
	return feature, ok
}

// DumpFeatures lists registered features in registration order.
func (r *Registry) DumpFeatures() []FeatureInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]FeatureInfo, 0, len(r.order))
	for _, name := range r.order {
		feature := r.features[name]
		infos = append(infos, FeatureInfo{
			Name:        feature.name,
			Enabled:     feature.enabled,
			Requirement: feature.requirement,
			DecidedBy:   feature.decidedBy,
		})
	}
	return infos
}

// Len returns the number of registered features.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
