// Package sources provides core.StateSource implementations backed by
// in-memory maps, request data, the process environment, override files and
// periodically fetched remote state.
package sources

import (
	"fmt"
	"log/slog"

	"github.com/matt-riley/semflagz/internal/core"
)

// DefaultPrefix is prepended to feature names in query parameters and
// cookies.
const DefaultPrefix = "feature."

// Option configures the stateful sources.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	name        string
	fetchOnInit bool
	onRefresh   func(source string, err error)
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.DiscardHandler),
		fetchOnInit: true,
	}
}

// WithLogger sets the logger used for reload and refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName overrides the name reported through core.Named.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithFetchOnInit controls whether AsyncSource fetches during Initialize.
func WithFetchOnInit(enabled bool) Option {
	return func(o *options) {
		o.fetchOnInit = enabled
	}
}

// WithRefreshHook registers fn to be called after every refresh attempt of a
// FileSource or AsyncSource, with the source name and the refresh error.
func WithRefreshHook(fn func(source string, err error)) Option {
	return func(o *options) {
		o.onRefresh = fn
	}
}

func applyOptions(opts []Option, name string) options {
	o := defaultOptions()
	o.name = name
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// normalize keeps booleans as they are and stringifies everything else
// before parsing. Values without an opinion are dropped.
func normalize(raw map[string]any) map[string]core.Availability {
	states := make(map[string]core.Availability, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case bool:
			states[name] = core.Bool(v)
			continue
		case string:
		default:
			value = fmt.Sprint(v)
		}
		if parsed, ok := core.ParseSourceValue(value); ok {
			states[name] = parsed
		}
	}
	return states
}
