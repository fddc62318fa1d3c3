// Package grpc provides a gRPC client for the semflagz feature toggle service.
//
// The service exchanges google.protobuf.Struct messages, so no generated
// stubs are needed; requests and responses are mapped through JSON.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	semflagz "github.com/matt-riley/semflagz/clients/go"
)

const (
	evaluateMethod         = "/semflagz.v1.FeatureService/Evaluate"
	evaluateManifestMethod = "/semflagz.v1.FeatureService/EvaluateManifest"
)

// Config holds configuration for the gRPC client.
type Config struct {
	// Address is the host:port of the semflagz gRPC server, e.g. "localhost:9090".
	Address string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// DialOpts are additional gRPC dial options (e.g. TLS credentials).
	// If empty, insecure credentials are used.
	DialOpts []grpc.DialOption
}

// Client implements semflagz.Evaluator over gRPC. Overrides are managed over
// HTTP only.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
}

var _ semflagz.Evaluator = (*Client)(nil)

// NewGRPCClient dials the semflagz gRPC server and returns a new client.
// Call Close() when done.
func NewGRPCClient(cfg Config) (*Client, error) {
	opts := []grpc.DialOption{}
	if len(cfg.DialOpts) > 0 {
		opts = append(opts, cfg.DialOpts...)
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("semflagz: grpc dial: %w", err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// authCtx injects the bearer token into outgoing gRPC metadata.
func (c *Client) authCtx(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.cfg.APIKey)
}

type wireEvaluateReq struct {
	Version   string                    `json:"version,omitempty"`
	Features  []semflagz.FeatureRequest `json:"features,omitempty"`
	Overrides map[string]string         `json:"overrides,omitempty"`
}

func (c *Client) Evaluate(ctx context.Context, req semflagz.EvaluateRequest) (semflagz.EvaluateResult, error) {
	return c.invoke(ctx, evaluateMethod, wireEvaluateReq{
		Version:   req.Version,
		Features:  req.Features,
		Overrides: req.Overrides,
	})
}

func (c *Client) EvaluateManifest(ctx context.Context, version string, overrides map[string]string) (semflagz.EvaluateResult, error) {
	return c.invoke(ctx, evaluateManifestMethod, wireEvaluateReq{
		Version:   version,
		Overrides: overrides,
	})
}

func (c *Client) invoke(ctx context.Context, method string, req wireEvaluateReq) (semflagz.EvaluateResult, error) {
	in, err := toStruct(req)
	if err != nil {
		return semflagz.EvaluateResult{}, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(c.authCtx(ctx), method, in, out); err != nil {
		return semflagz.EvaluateResult{}, fmt.Errorf("semflagz: %s: %w", method, err)
	}
	return fromStruct(out)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("semflagz: marshal request: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("semflagz: marshal request: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("semflagz: encode request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) (semflagz.EvaluateResult, error) {
	var result semflagz.EvaluateResult
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return result, fmt.Errorf("semflagz: decode response: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("semflagz: decode response: %w", err)
	}
	return result, nil
}
