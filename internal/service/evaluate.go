package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/manifest"
)

// FeatureRequest names one feature to evaluate. Requirement accepts a JSON
// boolean or a version/range string.
type FeatureRequest struct {
	Name        string            `json:"name"`
	Requirement core.Availability `json:"requirement"`
}

// EvaluateRequest is a batch of features evaluated against one version.
// Sources are consulted before stored overrides and configured sources.
type EvaluateRequest struct {
	Version  string
	Features []FeatureRequest
	Sources  []core.StateSource
}

type FeatureVerdict struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Requirement core.Availability `json:"requirement"`
	DecidedBy   string            `json:"decided_by"`
}

type EvaluateResult struct {
	Version  string           `json:"version"`
	Features []FeatureVerdict `json:"features"`
}

// ManifestVerdict is a FeatureVerdict annotated with its manifest entry.
type ManifestVerdict struct {
	FeatureVerdict
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`
}

type ManifestResult struct {
	Version  string            `json:"version"`
	Features []ManifestVerdict `json:"features"`
}

// Evaluate builds a fresh registry for the request and registers every
// requested feature on it. A feature named twice keeps its first
// requirement and is reported once.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (_ EvaluateResult, err error) {
	ctx, span := tracer.Start(ctx, "service.Evaluate", trace.WithAttributes(
		attribute.Int("semflagz.feature_count", len(req.Features)),
	))
	defer func() { endSpan(span, err) }()

	registry, version, err := s.newRegistry(ctx, req.Version, req.Sources)
	if err != nil {
		return EvaluateResult{}, err
	}
	span.SetAttributes(attribute.String("semflagz.version", version))

	for _, feature := range req.Features {
		name := strings.TrimSpace(feature.Name)
		if name == "" {
			return EvaluateResult{}, ErrFeatureNameRequired
		}
		if _, err := registry.RegisterAvailability(name, feature.Requirement); err != nil {
			return EvaluateResult{}, fmt.Errorf("evaluate %q: %w", name, err)
		}
	}

	infos := registry.DumpFeatures()
	result := EvaluateResult{
		Version:  version,
		Features: make([]FeatureVerdict, 0, len(infos)),
	}
	for _, info := range infos {
		result.Features = append(result.Features, s.verdict(info))
	}
	return result, nil
}

// EvaluateManifest evaluates every feature declared in the configured
// manifest, in manifest order.
func (s *Service) EvaluateManifest(ctx context.Context, version string, requestSources []core.StateSource) (_ ManifestResult, err error) {
	ctx, span := tracer.Start(ctx, "service.EvaluateManifest")
	defer func() { endSpan(span, err) }()

	if s.manifest == nil {
		return ManifestResult{}, ErrManifestNotConfigured
	}

	registry, version, err := s.newRegistry(ctx, version, requestSources)
	if err != nil {
		return ManifestResult{}, err
	}
	span.SetAttributes(
		attribute.String("semflagz.version", version),
		attribute.Int("semflagz.feature_count", len(s.manifest.Features)),
	)

	set, err := manifest.Bind(registry, *s.manifest)
	if err != nil {
		return ManifestResult{}, err
	}

	features := set.All()
	result := ManifestResult{
		Version:  version,
		Features: make([]ManifestVerdict, 0, len(features)),
	}
	for _, feature := range features {
		entry, _ := set.Entry(feature.Name())
		result.Features = append(result.Features, ManifestVerdict{
			FeatureVerdict: s.verdict(core.FeatureInfo{
				Name:        feature.Name(),
				Enabled:     feature.IsEnabled(),
				Requirement: feature.RequiredVersion(),
				DecidedBy:   feature.DecidedBy(),
			}),
			Description: entry.Description,
			Tags:        entry.Tags,
			Deprecated:  entry.Deprecated,
		})
	}
	return result, nil
}

var tracer = otel.Tracer("github.com/matt-riley/semflagz/internal/service")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Manifest returns the configured manifest, if any.
func (s *Service) Manifest() (manifest.Manifest, bool) {
	if s.manifest == nil {
		return manifest.Manifest{}, false
	}
	return *s.manifest, true
}

func (s *Service) DefaultVersion() string {
	return s.defaultVersion
}

// newRegistry orders sources as request sources, then a snapshot of stored
// overrides, then configured sources.
func (s *Service) newRegistry(ctx context.Context, version string, requestSources []core.StateSource) (*core.Registry, string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		version = s.defaultVersion
	}

	chain := make([]core.StateSource, 0, len(requestSources)+1+len(s.sources))
	chain = append(chain, requestSources...)
	chain = append(chain, s.snapshot())
	for i, source := range s.sources {
		chain = append(chain, initializedSource{
			StateSource: source,
			name:        configuredSourceName(i, source),
		})
	}

	registry, err := core.NewRegistry(ctx, core.RegistryOptions{
		Version: version,
		Sources: chain,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, "", err
	}
	return registry, version, nil
}

func (s *Service) verdict(info core.FeatureInfo) FeatureVerdict {
	if s.onEvaluation != nil {
		s.onEvaluation(info.Enabled, info.DecidedBy)
	}
	return FeatureVerdict(info)
}

// snapshot freezes the override cache so one evaluation sees a consistent
// set of overrides.
func (s *Service) snapshot() overrideSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make(map[string]string, len(s.cache))
	for name, override := range s.cache {
		values[name] = override.Value
	}
	return overrideSnapshot(values)
}

type overrideSnapshot map[string]string

func (o overrideSnapshot) FeatureState(name string) any {
	value, ok := o[name]
	if !ok {
		return nil
	}
	return value
}

func (o overrideSnapshot) SourceName() string {
	return SourceName
}

// initializedSource hides core.Initializer from per-request registries;
// configured sources are initialized once by New.
type initializedSource struct {
	core.StateSource
	name string
}

func (s initializedSource) SourceName() string {
	return s.name
}

func configuredSourceName(index int, source core.StateSource) string {
	if named, ok := source.(core.Named); ok {
		if name := strings.TrimSpace(named.SourceName()); name != "" {
			return name
		}
	}
	return fmt.Sprintf("configured[%d]", index)
}
