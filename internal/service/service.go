// Package service keeps the stored override cache and evaluates features on
// behalf of the HTTP and gRPC servers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/manifest"
	"github.com/matt-riley/semflagz/internal/repository"
)

const (
	EventTypeUpdated = "updated"
	EventTypeDeleted = "deleted"

	// SourceName identifies stored overrides in verdicts.
	SourceName = "overrides"

	bestEffortTimeout          = 2 * time.Second
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
)

var (
	ErrOverrideNotFound      = errors.New("override not found")
	ErrInvalidOverride       = errors.New("invalid override")
	ErrFeatureNameRequired   = errors.New("feature name is required")
	ErrManifestNotConfigured = errors.New("manifest not configured")
)

type Repository interface {
	UpsertOverride(ctx context.Context, o repository.Override) (repository.Override, error)
	GetOverride(ctx context.Context, name string) (repository.Override, error)
	ListOverrides(ctx context.Context) ([]repository.Override, error)
	DeleteOverride(ctx context.Context, name string) error
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.OverrideEvent, error)
	PublishOverrideEvent(ctx context.Context, event repository.OverrideEvent) (repository.OverrideEvent, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeOverrideInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for background cache maintenance.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheMetrics registers callbacks fired on full cache loads, on NOTIFY
// invalidations and whenever the cache size changes. Any may be nil.
func WithCacheMetrics(onLoad, onInvalidation func(), onSize func(int)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onCacheInvalidation = onInvalidation
		s.onCacheSize = onSize
	}
}

// WithEvaluationRecorder registers a callback fired once per evaluated
// feature.
func WithEvaluationRecorder(record func(enabled bool, decidedBy string)) Option {
	return func(s *Service) {
		s.onEvaluation = record
	}
}

// WithOverrideWriteRecorder registers a callback fired after a stored
// override is upserted or deleted.
func WithOverrideWriteRecorder(record func(operation string)) Option {
	return func(s *Service) {
		s.onOverrideWrite = record
	}
}

// WithSources appends sources consulted after stored overrides. Sources that
// implement core.Initializer are initialized once by New.
func WithSources(sources ...core.StateSource) Option {
	return func(s *Service) {
		for _, source := range sources {
			if source != nil {
				s.sources = append(s.sources, source)
			}
		}
	}
}

// WithManifest enables EvaluateManifest.
func WithManifest(m manifest.Manifest) Option {
	return func(s *Service) {
		s.manifest = &m
	}
}

// WithDefaultVersion sets the version used when a request names none.
func WithDefaultVersion(version string) Option {
	return func(s *Service) {
		s.defaultVersion = version
	}
}

// WithCacheResyncInterval sets the safety-net reload period used alongside
// NOTIFY invalidations.
func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.cacheResyncInterval = interval
		}
	}
}

type Service struct {
	repo                Repository
	logger              *slog.Logger
	sources             []core.StateSource
	manifest            *manifest.Manifest
	defaultVersion      string
	cacheResyncInterval time.Duration

	onCacheLoad         func()
	onCacheInvalidation func()
	onCacheSize         func(int)
	onEvaluation        func(bool, string)
	onOverrideWrite     func(string)

	mu    sync.RWMutex
	cache map[string]repository.Override
}

// New loads the override cache, initializes configured sources and, when the
// repository supports it, starts listening for cache invalidations.
func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:                repo,
		logger:              slog.New(slog.DiscardHandler),
		cacheResyncInterval: defaultCacheResyncInterval,
		cache:               make(map[string]repository.Override),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if err := svc.initializeSources(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache replaces the override cache with the repository contents.
func (s *Service) LoadCache(ctx context.Context) error {
	overrides, err := s.repo.ListOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	next := make(map[string]repository.Override, len(overrides))
	for _, override := range overrides {
		next[override.Name] = override
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	s.reportCacheSize(len(next))

	return nil
}

// Refresh reloads the override cache. It makes Service a core.Refresher.
func (s *Service) Refresh(ctx context.Context) error {
	return s.LoadCache(ctx)
}

// FeatureState returns the stored override value for name, or nil.
func (s *Service) FeatureState(name string) any {
	override, ok := s.getCachedOverride(name)
	if !ok {
		return nil
	}
	return override.Value
}

func (s *Service) SourceName() string {
	return SourceName
}

func (s *Service) initializeSources(ctx context.Context) error {
	for i, source := range s.sources {
		initializer, ok := source.(core.Initializer)
		if !ok {
			continue
		}
		if err := initializer.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", configuredSourceName(i, source), err)
		}
	}
	return nil
}

func (s *Service) getCachedOverride(name string) (repository.Override, bool) {
	s.mu.RLock()
	override, ok := s.cache[name]
	s.mu.RUnlock()

	return override, ok
}

func (s *Service) setCachedOverride(override repository.Override) {
	s.mu.Lock()
	s.cache[override.Name] = override
	size := len(s.cache)
	s.mu.Unlock()

	s.reportCacheSize(size)
}

func (s *Service) deleteCachedOverride(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	size := len(s.cache)
	s.mu.Unlock()

	s.reportCacheSize(size)
}

func (s *Service) reportCacheSize(size int) {
	if s.onCacheSize != nil {
		s.onCacheSize(size)
	}
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeOverrideInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.cacheResyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeOverrideInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeOverrideInvalidation(ctx)
					if err != nil {
						s.logger.Warn("resubscribe override invalidation", "error", err)
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onCacheInvalidation != nil {
					s.onCacheInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil && ctx.Err() == nil {
		s.logger.Warn("reload override cache", "error", err)
	}
}
