// Package http provides an HTTP client for the semflagz feature toggle service.
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	semflagz "github.com/matt-riley/semflagz/clients/go"
)

// overridePrefix matches the server's per-request query source.
const overridePrefix = "feature."

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the semflagz server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements semflagz.Evaluator, semflagz.OverrideManager and
// semflagz.Streamer over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ semflagz.Evaluator       = (*Client)(nil)
	_ semflagz.OverrideManager = (*Client)(nil)
	_ semflagz.Streamer        = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the semflagz service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

type wireEvaluateReq struct {
	Version  string                    `json:"version,omitempty"`
	Features []semflagz.FeatureRequest `json:"features"`
}

type wireOverrideReq struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("semflagz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("semflagz: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semflagz: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}
	return resp, nil
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("semflagz: HTTP %d: %s", e.StatusCode, e.Message)
}

// newAPIError prefers the server's {"error": "..."} message over the raw body.
func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var we wireError
	if json.Unmarshal(raw, &we) == nil && we.Error != "" {
		msg = we.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func decodeBody[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("semflagz: decode response: %w", err)
	}
	return out, nil
}

func overrideQuery(overrides map[string]string) url.Values {
	if len(overrides) == 0 {
		return nil
	}
	query := make(url.Values, len(overrides))
	for name, value := range overrides {
		query.Set(overridePrefix+name, value)
	}
	return query
}

// -- Evaluator ---------------------------------------------------------------

// Evaluate sends req.Overrides as feature.<name> query parameters, which the
// server consults ahead of its stored overrides.
func (c *Client) Evaluate(ctx context.Context, req semflagz.EvaluateRequest) (semflagz.EvaluateResult, error) {
	body := wireEvaluateReq{Version: req.Version, Features: req.Features}
	resp, err := c.do(ctx, http.MethodPost, "/v1/evaluate", overrideQuery(req.Overrides), body)
	if err != nil {
		return semflagz.EvaluateResult{}, err
	}
	return decodeBody[semflagz.EvaluateResult](resp)
}

func (c *Client) EvaluateManifest(ctx context.Context, version string, overrides map[string]string) (semflagz.EvaluateResult, error) {
	query := overrideQuery(overrides)
	if version != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("version", version)
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/manifest", query, nil)
	if err != nil {
		return semflagz.EvaluateResult{}, err
	}
	return decodeBody[semflagz.EvaluateResult](resp)
}

// -- OverrideManager ---------------------------------------------------------

func (c *Client) SetOverride(ctx context.Context, override semflagz.Override) (semflagz.Override, error) {
	body := wireOverrideReq{Name: override.Name, Value: override.Value, Description: override.Description}
	resp, err := c.do(ctx, http.MethodPut, "/v1/overrides/"+url.PathEscape(override.Name), nil, body)
	if err != nil {
		return semflagz.Override{}, err
	}
	return decodeBody[semflagz.Override](resp)
}

func (c *Client) GetOverride(ctx context.Context, name string) (semflagz.Override, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/overrides/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return semflagz.Override{}, err
	}
	return decodeBody[semflagz.Override](resp)
}

func (c *Client) ListOverrides(ctx context.Context) ([]semflagz.Override, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/overrides", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeBody[[]semflagz.Override](resp)
}

func (c *Client) DeleteOverride(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/overrides/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// -- Streamer ----------------------------------------------------------------

// Stream connects to the SSE stream and emits OverrideEvents on the returned
// channel. The channel is closed when ctx is cancelled or the connection
// drops.
func (c *Client) Stream(ctx context.Context, lastEventID int64) (<-chan semflagz.OverrideEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("semflagz: create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastEventID, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semflagz: stream connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}

	ch := make(chan semflagz.OverrideEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		br := bufio.NewReaderSize(resp.Body, 1<<20)
		parseSSE(ctx, br, ch)
	}()
	return ch, nil
}

// parseSSE reads the id, event and data fields the server emits, dispatching
// one event per blank line. Multi-line data is joined with newlines.
func parseSSE(ctx context.Context, r *bufio.Reader, ch chan<- semflagz.OverrideEvent) {
	var (
		eventType string
		dataLines []string
		eventID   int64
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				ev := decodeEvent(eventType, eventID, strings.Join(dataLines, "\n"))
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			eventType = ""
			dataLines = nil
		case strings.HasPrefix(line, "id:"):
			if id, parseErr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "id:")), 10, 64); parseErr == nil {
				eventID = id
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}

func decodeEvent(eventType string, eventID int64, data string) semflagz.OverrideEvent {
	ev := semflagz.OverrideEvent{Type: eventType, EventID: eventID}
	switch eventType {
	case "update", "delete":
		var o semflagz.Override
		if err := json.Unmarshal([]byte(data), &o); err == nil {
			ev.Override = &o
			ev.Name = o.Name
		}
	case "error":
		var we wireError
		if err := json.Unmarshal([]byte(data), &we); err == nil {
			ev.Error = we.Error
		}
	}
	return ev
}
