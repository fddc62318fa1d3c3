package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/metrics"
	"github.com/matt-riley/semflagz/internal/repository"
	"github.com/matt-riley/semflagz/internal/service"
	"github.com/matt-riley/semflagz/internal/sources"
)

const (
	defaultStreamPollInterval = time.Second
	defaultMaxJSONBodyBytes   = 1 << 20
)

var errJSONBodyTooLarge = errors.New("json request body too large")

// HTTPServer serves the JSON API over a Service.
type HTTPServer struct {
	service            Service
	metrics            *metrics.Metrics
	streamPollInterval time.Duration
	maxJSONBodyBytes   int64
}

// HTTPOption configures optional HTTPServer parameters.
type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize caps JSON request bodies at n bytes. Values < 1 are
// ignored.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

type evaluateJSONRequest struct {
	Version  string                   `json:"version,omitempty"`
	Features []service.FeatureRequest `json:"features"`
}

type overrideJSONRequest struct {
	Name        string `json:"name,omitempty"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

func NewHTTPHandler(svc Service) http.Handler {
	return NewHTTPHandlerWithOptions(svc, defaultStreamPollInterval, nil)
}

// NewHTTPHandlerWithOptions builds the API handler. When m is nil, request
// metrics are not recorded and /metrics is not served.
func NewHTTPHandlerWithOptions(svc Service, streamPollInterval time.Duration, m *metrics.Metrics, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	if streamPollInterval <= 0 {
		streamPollInterval = defaultStreamPollInterval
	}

	server := &HTTPServer{
		service:            svc,
		metrics:            m,
		streamPollInterval: streamPollInterval,
		maxJSONBodyBytes:   defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("GET /v1/manifest", server.handleManifest)
	mux.HandleFunc("GET /v1/overrides", server.handleListOverrides)
	mux.HandleFunc("GET /v1/overrides/{name}", server.handleGetOverride)
	mux.HandleFunc("PUT /v1/overrides/{name}", server.handlePutOverride)
	mux.HandleFunc("DELETE /v1/overrides/{name}", server.handleDeleteOverride)
	mux.HandleFunc("GET /v1/stream", server.handleStream)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	return server.withMetrics(mux)
}

func (s *HTTPServer) withMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// ServeMux records the matched pattern on r.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if len(request.Features) == 0 {
		writeJSONError(w, http.StatusBadRequest, "features are required")
		return
	}
	for idx, feature := range request.Features {
		if strings.TrimSpace(feature.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("features[%d].name is required", idx))
			return
		}
	}

	result, err := s.service.Evaluate(r.Context(), service.EvaluateRequest{
		Version:  request.Version,
		Features: request.Features,
		Sources:  sources.FromRequest(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")

	result, err := s.service.EvaluateManifest(r.Context(), version, sources.FromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.service.ListOverrides(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, overrides)
}

func (s *HTTPServer) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	override, err := s.service.GetOverride(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, override)
}

func (s *HTTPServer) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	var request overrideJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if bodyName := strings.TrimSpace(request.Name); bodyName != "" && bodyName != name {
		writeJSONError(w, http.StatusBadRequest, "path name and body name must match")
		return
	}

	saved, err := s.service.SetOverride(r.Context(), repository.Override{
		Name:        name,
		Value:       request.Value,
		Description: request.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.service.DeleteOverride(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	controller := http.NewResponseController(w)
	flush := func() error { return controller.Flush() }

	currentEventID := lastEventID
	writeEvents := func(events []repository.OverrideEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}

		return nil
	}

	initialEvents, err := s.service.ListEventsSince(r.Context(), currentEventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := flush(); err != nil {
		return
	}

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := s.service.ListEventsSince(r.Context(), currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				writeSSEError(w, flush, serviceErrorMessage(err))
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "update", service.EventTypeUpdated:
		return "update"
	case "delete", service.EventTypeDeleted:
		return "delete"
	default:
		return ""
	}
}

// isClientError reports whether err was caused by the request rather than
// the server.
func isClientError(err error) bool {
	return errors.Is(err, service.ErrInvalidOverride) ||
		errors.Is(err, service.ErrFeatureNameRequired) ||
		errors.Is(err, core.ErrMissingVersion) ||
		errors.Is(err, core.ErrInvalidVersion) ||
		errors.Is(err, core.ErrInvalidRange) ||
		errors.Is(err, core.ErrInvalidFeatureState)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case isClientError(err):
		writeJSONError(w, http.StatusBadRequest, serviceErrorMessage(err))
	case errors.Is(err, service.ErrOverrideNotFound), errors.Is(err, service.ErrManifestNotConfigured):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case isClientError(err):
		return err.Error()
	case errors.Is(err, service.ErrOverrideNotFound):
		return "override not found"
	case errors.Is(err, service.ErrManifestNotConfigured):
		return "manifest not configured"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeSSEError(w io.Writer, flush func() error, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	_ = flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	return strings.Split(string(payload), "\n")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errJSONBodyTooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, core.ErrInvalidRange):
		writeJSONError(w, http.StatusBadRequest, "invalid requirement: "+err.Error())
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
