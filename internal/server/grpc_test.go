package server

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/metrics"
	"github.com/matt-riley/semflagz/internal/service"
)

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}

func TestGRPCServerEvaluate(t *testing.T) {
	var captured service.EvaluateRequest
	svc := &fakeService{
		evaluateFunc: func(_ context.Context, req service.EvaluateRequest) (service.EvaluateResult, error) {
			captured = req
			return service.EvaluateResult{
				Version: "1.5.0",
				Features: []service.FeatureVerdict{
					{Name: "search", Enabled: true, Requirement: core.InRange(core.MustParseRange("^1.2.0")), DecidedBy: core.DecidedByRequirement},
				},
			}, nil
		},
	}

	resp, err := NewGRPCServer(svc).Evaluate(context.Background(), mustStruct(t, map[string]any{
		"version": "1.5.0",
		"features": []any{
			map[string]any{"name": "search", "requirement": "^1.2.0"},
		},
		"overrides": map[string]any{"search": "false"},
	}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if captured.Version != "1.5.0" || len(captured.Features) != 1 {
		t.Fatalf("captured request = %#v", captured)
	}
	if r, ok := captured.Features[0].Requirement.Range(); !ok || r.String() != "^1.2.0" {
		t.Fatalf("requirement = %v, want ^1.2.0", captured.Features[0].Requirement)
	}
	if len(captured.Sources) != 1 {
		t.Fatalf("request sources = %d, want 1", len(captured.Sources))
	}
	if got := captured.Sources[0].FeatureState("search"); got != "false" {
		t.Fatalf("request override = %v, want false", got)
	}
	if named, ok := captured.Sources[0].(core.Named); !ok || named.SourceName() != "request" {
		t.Fatalf("request source name = %v", captured.Sources[0])
	}

	features := resp.GetFields()["features"].GetListValue().GetValues()
	if len(features) != 1 {
		t.Fatalf("features = %v, want one verdict", features)
	}
	verdict := features[0].GetStructValue().GetFields()
	if verdict["name"].GetStringValue() != "search" || !verdict["enabled"].GetBoolValue() {
		t.Fatalf("verdict = %v", verdict)
	}
	if verdict["requirement"].GetStringValue() != "^1.2.0" {
		t.Fatalf("verdict requirement = %v", verdict["requirement"])
	}
	if verdict["decided_by"].GetStringValue() != core.DecidedByRequirement {
		t.Fatalf("verdict decided_by = %v", verdict["decided_by"])
	}
}

func TestGRPCServerEvaluateInvalidArgument(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "no features", fields: map[string]any{"version": "1.0.0"}},
		{name: "blank name", fields: map[string]any{"features": []any{map[string]any{"name": ""}}}},
		{name: "invalid requirement", fields: map[string]any{"features": []any{map[string]any{"name": "a", "requirement": "banana"}}}},
		{name: "unknown field", fields: map[string]any{"features": []any{map[string]any{"name": "a"}}, "context": "x"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				evaluateFunc: func(context.Context, service.EvaluateRequest) (service.EvaluateResult, error) {
					t.Fatal("Evaluate should not be called")
					return service.EvaluateResult{}, nil
				},
			}

			_, err := NewGRPCServer(svc).Evaluate(context.Background(), mustStruct(t, tc.fields))
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("Evaluate() error = %v, want InvalidArgument", err)
			}
		})
	}

	if _, err := NewGRPCServer(&fakeService{}).Evaluate(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Evaluate(nil) error = %v, want InvalidArgument", err)
	}
}

func TestGRPCServerEvaluateManifest(t *testing.T) {
	var gotVersion string
	svc := &fakeService{
		evaluateManifestFunc: func(_ context.Context, version string, _ []core.StateSource) (service.ManifestResult, error) {
			gotVersion = version
			return service.ManifestResult{Version: version}, nil
		},
	}

	resp, err := NewGRPCServer(svc).EvaluateManifest(context.Background(), mustStruct(t, map[string]any{"version": "4.0.0"}))
	if err != nil {
		t.Fatalf("EvaluateManifest() error = %v", err)
	}
	if gotVersion != "4.0.0" {
		t.Fatalf("version = %q, want 4.0.0", gotVersion)
	}
	if resp.GetFields()["version"].GetStringValue() != "4.0.0" {
		t.Fatalf("response = %v", resp)
	}
}

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "nil", err: nil, want: codes.OK},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "no"), want: codes.PermissionDenied},
		{name: "invalid version", err: &core.InvalidVersionError{Input: "x"}, want: codes.InvalidArgument},
		{name: "invalid range", err: &core.InvalidRangeError{Input: "x"}, want: codes.InvalidArgument},
		{name: "missing version", err: core.ErrMissingVersion, want: codes.InvalidArgument},
		{name: "name required", err: service.ErrFeatureNameRequired, want: codes.InvalidArgument},
		{name: "not found", err: service.ErrOverrideNotFound, want: codes.NotFound},
		{name: "no manifest", err: service.ErrManifestNotConfigured, want: codes.FailedPrecondition},
		{name: "canceled", err: context.Canceled, want: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{name: "internal", err: errors.New("boom"), want: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(toGRPCError(tc.err)); got != tc.want {
				t.Fatalf("toGRPCError(%v) code = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestFeatureServiceOverGRPC(t *testing.T) {
	svc := &fakeService{
		evaluateFunc: func(_ context.Context, req service.EvaluateRequest) (service.EvaluateResult, error) {
			verdicts := make([]service.FeatureVerdict, 0, len(req.Features))
			for _, feature := range req.Features {
				verdicts = append(verdicts, service.FeatureVerdict{Name: feature.Name, Enabled: true, Requirement: feature.Requirement, DecidedBy: "requirement"})
			}
			return service.EvaluateResult{Version: req.Version, Features: verdicts}, nil
		},
		evaluateManifestFunc: func(context.Context, string, []core.StateSource) (service.ManifestResult, error) {
			return service.ManifestResult{}, service.ErrManifestNotConfigured
		},
	}

	m := metrics.New()
	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(m.UnaryServerInterceptor()))
	RegisterFeatureServiceServer(grpcServer, NewGRPCServer(svc))
	go func() { _ = grpcServer.Serve(listener) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	in := mustStruct(t, map[string]any{
		"version":  "2.0.0",
		"features": []any{map[string]any{"name": "beta", "requirement": true}},
	})
	out := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), EvaluateFullMethodName, in, out); err != nil {
		t.Fatalf("Invoke(Evaluate) error = %v", err)
	}
	if out.GetFields()["version"].GetStringValue() != "2.0.0" {
		t.Fatalf("response = %v", out)
	}

	err = conn.Invoke(context.Background(), EvaluateManifestFullMethodName, mustStruct(t, map[string]any{}), new(structpb.Struct))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Invoke(EvaluateManifest) error = %v, want FailedPrecondition", err)
	}

	if got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Evaluate", "OK")); got != 1 {
		t.Fatalf("grpc Evaluate requests = %v, want 1", got)
	}
}
