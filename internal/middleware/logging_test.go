package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestHTTPRequestLogging(t *testing.T) {
	t.Run("logs request with request_id in context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		var capturedReqID string
		var capturedLogger *slog.Logger
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := RequestIDFromContext(r.Context())
			if !ok {
				t.Fatal("expected request_id in context")
			}
			capturedReqID = id
			capturedLogger = LoggerFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if _, err := uuid.Parse(capturedReqID); err != nil {
			t.Fatalf("expected UUID request_id, got %q: %v", capturedReqID, err)
		}
		if got := rec.Header().Get(RequestIDHeader); got != capturedReqID {
			t.Fatalf("expected %s header %q, got %q", RequestIDHeader, capturedReqID, got)
		}
		if capturedLogger == nil {
			t.Fatal("expected logger in context")
		}

		output := buf.String()
		for _, want := range []string{
			"request started",
			"request completed",
			capturedReqID,
			"method=POST",
			"path=/v1/evaluate",
			"status_code=200",
			"duration_ms=",
		} {
			if !strings.Contains(output, want) {
				t.Fatalf("expected %q in log output, got: %s", want, output)
			}
		}
	})

	t.Run("started line is debug only", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

		output := buf.String()
		if strings.Contains(output, "request started") {
			t.Fatalf("did not expect 'request started' at info level, got: %s", output)
		}
		if !strings.Contains(output, "request completed") {
			t.Fatalf("expected 'request completed' in log output, got: %s", output)
		}
	})

	t.Run("reuses incoming uuid", func(t *testing.T) {
		incoming := uuid.NewString()
		var capturedReqID string
		handler := HTTPRequestLogging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			capturedReqID, _ = RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, incoming)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if capturedReqID != incoming {
			t.Fatalf("expected request_id %q, got %q", incoming, capturedReqID)
		}
		if got := rec.Header().Get(RequestIDHeader); got != incoming {
			t.Fatalf("expected echoed header %q, got %q", incoming, got)
		}
	})

	t.Run("replaces malformed incoming id", func(t *testing.T) {
		var capturedReqID string
		handler := HTTPRequestLogging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			capturedReqID, _ = RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "user-supplied\nvalue")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if _, err := uuid.Parse(capturedReqID); err != nil {
			t.Fatalf("expected generated UUID, got %q", capturedReqID)
		}
	})

	t.Run("captures non-200 status code", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodGet, "/v1/overrides/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "status_code=404") {
			t.Fatalf("expected status_code=404 in log output, got: %s", buf.String())
		}
	})

	t.Run("captures status from Write without explicit WriteHeader", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("hello"))
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if !strings.Contains(buf.String(), "status_code=200") {
			t.Fatalf("expected status_code=200 in log output, got: %s", buf.String())
		}
	})

	t.Run("nil logger uses default", func(t *testing.T) {
		handler := HTTPRequestLogging(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestUnaryRequestLoggingInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/semflagz.v1.FeatureService/Evaluate"}

	t.Run("logs gRPC request with request_id", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		var capturedReqID string
		interceptor := UnaryRequestLoggingInterceptor(logger)

		resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, _ any) (any, error) {
			id, ok := RequestIDFromContext(ctx)
			if !ok {
				t.Fatal("expected request_id in context")
			}
			capturedReqID = id
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp != "ok" {
			t.Fatalf("expected response 'ok', got %v", resp)
		}
		if _, err := uuid.Parse(capturedReqID); err != nil {
			t.Fatalf("expected UUID request_id, got %q", capturedReqID)
		}

		output := buf.String()
		for _, want := range []string{
			"request completed",
			"/semflagz.v1.FeatureService/Evaluate",
			"status_code=OK",
			"duration_ms=",
		} {
			if !strings.Contains(output, want) {
				t.Fatalf("expected %q in log output, got: %s", want, output)
			}
		}
	})

	t.Run("reuses x-request-id metadata", func(t *testing.T) {
		incoming := uuid.NewString()
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", incoming))

		var capturedReqID string
		_, err := UnaryRequestLoggingInterceptor(slog.New(slog.DiscardHandler))(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
			capturedReqID, _ = RequestIDFromContext(ctx)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if capturedReqID != incoming {
			t.Fatalf("expected request_id %q, got %q", incoming, capturedReqID)
		}
	})

	t.Run("logs error status code", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		_, err := UnaryRequestLoggingInterceptor(logger)(context.Background(), "req", info, func(context.Context, any) (any, error) {
			return nil, status.Error(codes.InvalidArgument, "bad version")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(buf.String(), "status_code=InvalidArgument") {
			t.Fatalf("expected status_code=InvalidArgument in log output, got: %s", buf.String())
		}
	})
}

func TestRequestIDFromContext(t *testing.T) {
	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected false for empty context")
	}

	ctx := context.WithValue(context.Background(), requestIDKey, "test-id")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "test-id" {
		t.Fatalf("RequestIDFromContext() = %q, %v; want test-id, true", id, ok)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("expected non-nil logger")
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := context.WithValue(context.Background(), loggerKey, custom)
	if LoggerFromContext(ctx) != custom {
		t.Fatal("expected custom logger")
	}
}

func TestResponseWriterCapture(t *testing.T) {
	t.Run("double WriteHeader only records first", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusCreated)
		rw.WriteHeader(http.StatusInternalServerError)

		if rw.statusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rw.statusCode)
		}
	})

	t.Run("Unwrap returns underlying writer", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec}
		if rw.Unwrap() != rec {
			t.Fatal("Unwrap should return underlying ResponseWriter")
		}
	})
}
