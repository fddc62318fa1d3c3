package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matt-riley/semflagz/internal/core"
)

// Fetcher loads the full set of raw override values.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]any, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context) (map[string]any, error)

func (f FetcherFunc) Fetch(ctx context.Context) (map[string]any, error) {
	return f(ctx)
}

// AsyncSource caches the result of a Fetcher. Refresh replaces the whole
// cache; a failed refresh keeps the previous values.
type AsyncSource struct {
	fetcher     Fetcher
	fetchOnInit bool
	logger      *slog.Logger
	name        string
	onRefresh   func(string, error)

	mu          sync.RWMutex
	states      map[string]core.Availability
	lastRefresh time.Time
}

func NewAsyncSource(fetcher Fetcher, opts ...Option) (*AsyncSource, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is nil")
	}

	o := applyOptions(opts, "async")
	return &AsyncSource{
		fetcher:     fetcher,
		fetchOnInit: o.fetchOnInit,
		logger:      o.logger,
		name:        o.name,
		onRefresh:   o.onRefresh,
		states:      map[string]core.Availability{},
	}, nil
}

func (s *AsyncSource) FeatureState(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.states[name]; ok {
		return state
	}
	return nil
}

func (s *AsyncSource) SourceName() string {
	return s.name
}

// Initialize fetches once unless WithFetchOnInit(false) was given.
func (s *AsyncSource) Initialize(ctx context.Context) error {
	if !s.fetchOnInit {
		return nil
	}
	return s.Refresh(ctx)
}

func (s *AsyncSource) Refresh(ctx context.Context) (err error) {
	if s.onRefresh != nil {
		defer func() { s.onRefresh(s.name, err) }()
	}

	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s overrides: %w", s.name, err)
	}

	states := normalize(raw)

	s.mu.Lock()
	s.states = states
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	return nil
}

// LastRefresh returns the time of the last successful refresh.
func (s *AsyncSource) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}

// Start refreshes every interval until ctx is done. Failures are logged.
func (s *AsyncSource) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("refresh overrides failed", "source", s.name, "error", err)
				}
			}
		}
	}()
}
