package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	semflagz "github.com/matt-riley/semflagz/clients/go"
	semflagzgrpc "github.com/matt-riley/semflagz/clients/go/grpc"
	"github.com/matt-riley/semflagz/internal/server"
)

const bufSize = 1 << 20 // 1 MiB

// testServer is a minimal in-process FeatureService that records the last
// request and replies with a canned response.
type testServer struct {
	capturedMD  metadata.MD
	lastMethod  string
	lastRequest map[string]any
	response    map[string]any
	err         error
}

func (s *testServer) record(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		s.capturedMD = md
	}
	s.lastMethod = method
	s.lastRequest = req.AsMap()
	if s.err != nil {
		return nil, s.err
	}
	return structpb.NewStruct(s.response)
}

func (s *testServer) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.record(ctx, "Evaluate", req)
}

func (s *testServer) EvaluateManifest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.record(ctx, "EvaluateManifest", req)
}

func (s *testServer) assertAuth(t *testing.T) {
	t.Helper()
	vals := s.capturedMD.Get("authorization")
	if len(vals) == 0 || vals[0] != "Bearer test-key" {
		t.Errorf("auth metadata: got %v, want [Bearer test-key]", vals)
	}
}

func startTestServer(t *testing.T, srv *testServer) *semflagzgrpc.Client {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer()
	server.RegisterFeatureServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := semflagzgrpc.NewGRPCClient(semflagzgrpc.Config{
		Address: "passthrough:///bufnet",
		APIKey:  "test-key",
		DialOpts: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		t.Fatalf("NewGRPCClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGRPCClient_Evaluate(t *testing.T) {
	srv := &testServer{response: map[string]any{
		"version": "1.4.0",
		"features": []any{
			map[string]any{"name": "search", "enabled": true, "requirement": "^1.2.0", "decided_by": "requirement"},
			map[string]any{"name": "beta", "enabled": false, "requirement": false, "decided_by": "request"},
		},
	}}
	c := startTestServer(t, srv)

	result, err := c.Evaluate(testCtx(t), semflagz.EvaluateRequest{
		Version: "1.4.0",
		Features: []semflagz.FeatureRequest{
			{Name: "search", Requirement: "^1.2.0"},
			{Name: "beta", Requirement: true},
		},
		Overrides: map[string]string{"beta": "false"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	srv.assertAuth(t)

	if srv.lastMethod != "Evaluate" {
		t.Fatalf("method = %q, want Evaluate", srv.lastMethod)
	}
	if srv.lastRequest["version"] != "1.4.0" {
		t.Fatalf("request version = %v", srv.lastRequest["version"])
	}
	features, ok := srv.lastRequest["features"].([]any)
	if !ok || len(features) != 2 {
		t.Fatalf("request features = %#v", srv.lastRequest["features"])
	}
	first := features[0].(map[string]any)
	if first["name"] != "search" || first["requirement"] != "^1.2.0" {
		t.Fatalf("first feature = %#v", first)
	}
	overrides, ok := srv.lastRequest["overrides"].(map[string]any)
	if !ok || overrides["beta"] != "false" {
		t.Fatalf("request overrides = %#v", srv.lastRequest["overrides"])
	}

	if result.Version != "1.4.0" || len(result.Features) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if enabled, ok := result.Enabled("search"); !ok || !enabled {
		t.Fatalf("Enabled(search) = %v, %v", enabled, ok)
	}
	if result.Features[1].DecidedBy != "request" {
		t.Fatalf("beta decided_by = %q, want request", result.Features[1].DecidedBy)
	}
	if result.Features[1].Requirement != false {
		t.Fatalf("beta requirement = %#v, want false", result.Features[1].Requirement)
	}
}

func TestGRPCClient_EvaluateManifest(t *testing.T) {
	srv := &testServer{response: map[string]any{
		"version": "2.0.0",
		"features": []any{
			map[string]any{
				"name":        "newUI",
				"enabled":     true,
				"requirement": ">=2.0.0",
				"decided_by":  "requirement",
				"description": "new interface",
				"tags":        []any{"ui"},
			},
		},
	}}
	c := startTestServer(t, srv)

	result, err := c.EvaluateManifest(testCtx(t), "2.0.0", nil)
	if err != nil {
		t.Fatalf("EvaluateManifest() error = %v", err)
	}
	srv.assertAuth(t)

	if srv.lastMethod != "EvaluateManifest" {
		t.Fatalf("method = %q, want EvaluateManifest", srv.lastMethod)
	}
	if _, ok := srv.lastRequest["features"]; ok {
		t.Fatalf("manifest request must not carry features: %#v", srv.lastRequest)
	}
	if _, ok := srv.lastRequest["overrides"]; ok {
		t.Fatalf("empty overrides should be omitted: %#v", srv.lastRequest)
	}
	if len(result.Features) != 1 {
		t.Fatalf("features = %+v", result.Features)
	}
	got := result.Features[0]
	if got.Description != "new interface" || len(got.Tags) != 1 || got.Tags[0] != "ui" {
		t.Fatalf("verdict metadata = %+v", got)
	}
}

func TestGRPCClient_ErrorStatus(t *testing.T) {
	srv := &testServer{err: status.Error(codes.FailedPrecondition, "no manifest configured")}
	c := startTestServer(t, srv)

	_, err := c.EvaluateManifest(testCtx(t), "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := status.Code(err); got != codes.FailedPrecondition {
		t.Fatalf("status code = %v, want FailedPrecondition", got)
	}
}
