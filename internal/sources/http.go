package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultFetchTimeout = 5 * time.Second
	maxFetchBodySize    = 1 << 20
)

// HTTPFetcher GETs a JSON document and reads overrides from the object at
// Path, a gjson path. An empty path uses the document root.
type HTTPFetcher struct {
	URL    string
	Path   string
	Client *http.Client
	Header http.Header
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	if f.URL == "" {
		return nil, errors.New("remote overrides url is required")
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range f.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", f.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return parseOverridesDocument(body, f.Path)
}

func parseOverridesDocument(body []byte, path string) (map[string]any, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	doc := gjson.ParseBytes(body)
	if path != "" {
		doc = doc.Get(path)
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("overrides at path %q are not a JSON object", path)
	}

	values := map[string]any{}
	doc.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.True, gjson.False:
			values[key.String()] = value.Bool()
		case gjson.String:
			values[key.String()] = value.String()
		case gjson.Number:
			values[key.String()] = value.Raw
		}
		return true
	})
	return values, nil
}
