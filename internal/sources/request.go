package sources

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/matt-riley/semflagz/internal/core"
)

// HeaderPrefix is prepended to feature names in request headers.
const HeaderPrefix = "X-Feature-"

// QuerySource reads overrides from URL query parameters such as
// ?feature.newUI=true.
type QuerySource struct {
	values url.Values
	prefix string
}

// NewQuerySource wraps values. An empty prefix means DefaultPrefix.
func NewQuerySource(values url.Values, prefix string) *QuerySource {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &QuerySource{values: values, prefix: prefix}
}

func (s *QuerySource) FeatureState(name string) any {
	key := s.prefix + name
	if !s.values.Has(key) {
		return nil
	}
	return s.values.Get(key)
}

func (s *QuerySource) SourceName() string {
	return "query"
}

// HeaderSource reads overrides from X-Feature-<name> headers, falling back
// to feature.<name> cookies. It is the per-request session store.
type HeaderSource struct {
	header  http.Header
	cookies []*http.Cookie
}

func NewHeaderSource(r *http.Request) *HeaderSource {
	return &HeaderSource{header: r.Header, cookies: r.Cookies()}
}

func (s *HeaderSource) FeatureState(name string) any {
	if values := s.header.Values(HeaderPrefix + name); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	for _, cookie := range s.cookies {
		if cookie.Name == DefaultPrefix+name {
			return cookie.Value
		}
	}
	return nil
}

func (s *HeaderSource) SourceName() string {
	return "header"
}

// FromRequest returns the per-request sources in precedence order: query
// parameters first, then headers and cookies.
func FromRequest(r *http.Request) []core.StateSource {
	return []core.StateSource{
		NewQuerySource(r.URL.Query(), DefaultPrefix),
		NewHeaderSource(r),
	}
}
