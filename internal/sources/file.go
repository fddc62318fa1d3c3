package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/matt-riley/semflagz/internal/core"
)

const watchDebounce = 100 * time.Millisecond

// FileSource serves overrides from a YAML or JSON file holding a flat
// mapping of feature name to value:
//
//	newUI: true
//	expApi: "1.5.0"
type FileSource struct {
	path      string
	logger    *slog.Logger
	name      string
	onRefresh func(string, error)

	mu     sync.RWMutex
	states map[string]core.Availability
}

// NewFileSource returns a FileSource for path. Nothing is read until
// Initialize or Refresh is called.
func NewFileSource(path string, opts ...Option) *FileSource {
	o := applyOptions(opts, "file")
	return &FileSource{
		path:      path,
		logger:    o.logger,
		name:      o.name,
		onRefresh: o.onRefresh,
		states:    map[string]core.Availability{},
	}
}

func (s *FileSource) FeatureState(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.states[name]; ok {
		return state
	}
	return nil
}

func (s *FileSource) SourceName() string {
	return s.name
}

// Initialize performs the first load. A missing or malformed file is an
// error here.
func (s *FileSource) Initialize(ctx context.Context) error {
	return s.Refresh(ctx)
}

// Refresh re-reads the file. On failure the previous values are kept.
func (s *FileSource) Refresh(_ context.Context) (err error) {
	if s.onRefresh != nil {
		defer func() { s.onRefresh(s.name, err) }()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read overrides file: %w", err)
	}

	raw, err := decodeOverrides(data, s.path)
	if err != nil {
		return fmt.Errorf("decode overrides file %s: %w", s.path, err)
	}

	states := normalize(raw)

	s.mu.Lock()
	s.states = states
	s.mu.Unlock()

	return nil
}

func decodeOverrides(data []byte, path string) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so that editors that replace the file on save are
// handled. The returned channel receives one value per successful reload and
// is closed when watching stops.
func (s *FileSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	reloaded := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()
		defer close(reloaded)

		var debounce *time.Timer
		var debounceC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(watchDebounce)
				debounceC = debounce.C
			case <-debounceC:
				debounceC = nil
				if err := s.Refresh(ctx); err != nil {
					s.logger.Warn("reload overrides file failed", "path", s.path, "error", err)
					continue
				}
				s.logger.Info("overrides file reloaded", "path", s.path)
				select {
				case reloaded <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("overrides file watcher error", "path", s.path, "error", err)
			}
		}
	}()

	return reloaded, nil
}
