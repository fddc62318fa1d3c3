package core

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DecidedByRequirement is reported by Feature.DecidedBy when no source had
// an opinion.
const DecidedByRequirement = "requirement"

// ParseSourceValue interprets a raw value returned by a StateSource. The
// second result is false when the value carries no opinion: nil, an empty or
// malformed string, a bare number, or an unsupported type. Malformed values
// are never errors so that a broken override falls through to the next
// source.
func ParseSourceValue(raw any) (Availability, bool) {
	switch value := raw.(type) {
	case nil:
		return Availability{}, false
	case bool:
		return Bool(value), true
	case *bool:
		if value == nil {
			return Availability{}, false
		}
		return Bool(*value), true
	case string:
		return parseSourceString(value)
	case *string:
		if value == nil {
			return Availability{}, false
		}
		return parseSourceString(*value)
	case Availability:
		return value, !value.IsZero()
	case VersionRange:
		return InRange(value), !value.IsZero()
	default:
		return Availability{}, false
	}
}

func parseSourceString(value string) (Availability, bool) {
	switch value {
	case "true":
		return Bool(true), true
	case "false":
		return Bool(false), true
	}

	version, err := parseExactVersion(strings.TrimSpace(value))
	if err != nil {
		return Availability{}, false
	}
	return InRange(atLeast(version)), true
}

// FeatureOptions configures NewFeature.
type FeatureOptions struct {
	Name           string
	Requirement    Availability
	CurrentVersion string
	Sources        []StateSource
}

// Feature is a single toggle whose verdict is computed once, when it is
// constructed, from its sources and its requirement.
type Feature struct {
	name           string
	requirement    Availability
	currentVersion *semver.Version
	sources        []StateSource
	enabled        bool
	decidedBy      string
}

// NewFeature evaluates a feature against opts.CurrentVersion. Sources are
// consulted in order and the first one with an opinion wins; otherwise the
// requirement decides.
func NewFeature(opts FeatureOptions) (*Feature, error) {
	version, err := ParseVersion(opts.CurrentVersion)
	if err != nil {
		return nil, err
	}
	return newFeature(opts.Name, opts.Requirement, version, opts.Sources)
}

func newFeature(name string, requirement Availability, version *semver.Version, sources []StateSource) (*Feature, error) {
	feature := &Feature{
		name:           name,
		requirement:    requirement,
		currentVersion: version,
		sources:        sources,
	}

	enabled, err := feature.determineEnabledState()
	if err != nil {
		return nil, err
	}
	feature.enabled = enabled

	return feature, nil
}

func (f *Feature) determineEnabledState() (bool, error) {
	effective := f.requirement
	f.decidedBy = DecidedByRequirement

	for i, source := range f.sources {
		if source == nil {
			continue
		}
		if parsed, ok := ParseSourceValue(source.FeatureState(f.name)); ok {
			effective = parsed
			f.decidedBy = sourceName(i, source)
			break
		}
	}

	if state, ok := effective.Bool(); ok {
		return state, nil
	}
	if r, ok := effective.Range(); ok {
		return r.TestVersion(f.currentVersion), nil
	}

	return false, &InvalidFeatureStateError{Feature: f.name}
}

func sourceName(index int, source StateSource) string {
	if named, ok := source.(Named); ok {
		if name := strings.TrimSpace(named.SourceName()); name != "" {
			return name
		}
	}
	return fmt.Sprintf("source[%d]", index)
}

func (f *Feature) Name() string {
	return f.name
}

// IsEnabled returns the cached verdict.
func (f *Feature) IsEnabled() bool {
	return f.enabled
}

// RequiredVersion returns the requirement the feature was registered with.
func (f *Feature) RequiredVersion() Availability {
	return f.requirement
}

func (f *Feature) CurrentVersion() string {
	return f.currentVersion.String()
}

// DecidedBy names the source that produced the verdict, or
// DecidedByRequirement.
func (f *Feature) DecidedBy() string {
	return f.decidedBy
}
