package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/service"
	"github.com/matt-riley/semflagz/internal/sources"
)

const (
	FeatureServiceName             = "semflagz.v1.FeatureService"
	EvaluateFullMethodName         = "/" + FeatureServiceName + "/Evaluate"
	EvaluateManifestFullMethodName = "/" + FeatureServiceName + "/EvaluateManifest"
)

// FeatureServiceServer is the server API for semflagz.v1.FeatureService.
// Requests and responses are google.protobuf.Struct values shaped like the
// HTTP JSON bodies, plus an optional "overrides" object that acts as a
// per-request source.
type FeatureServiceServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	EvaluateManifest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// FeatureServiceDesc is registered by hand; there are no generated stubs.
var FeatureServiceDesc = grpc.ServiceDesc{
	ServiceName: FeatureServiceName,
	HandlerType: (*FeatureServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "EvaluateManifest", Handler: evaluateManifestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "semflagz/v1/feature_service.proto",
}

// RegisterFeatureServiceServer registers srv with s.
func RegisterFeatureServiceServer(s grpc.ServiceRegistrar, srv FeatureServiceServer) {
	s.RegisterService(&FeatureServiceDesc, srv)
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryStructHandler(srv, ctx, dec, interceptor, EvaluateFullMethodName, FeatureServiceServer.Evaluate)
}

func evaluateManifestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryStructHandler(srv, ctx, dec, interceptor, EvaluateManifestFullMethodName, FeatureServiceServer.EvaluateManifest)
}

func unaryStructHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
	fullMethod string,
	call func(FeatureServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(FeatureServiceServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(FeatureServiceServer), ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer implements FeatureServiceServer over a Service.
type GRPCServer struct {
	service Service
}

func NewGRPCServer(svc Service) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	return &GRPCServer{service: svc}
}

type grpcEvaluateRequest struct {
	Version   string                   `json:"version"`
	Features  []service.FeatureRequest `json:"features"`
	Overrides map[string]any           `json:"overrides"`
}

func (s *GRPCServer) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var request grpcEvaluateRequest
	if err := decodeStruct(req, &request); err != nil {
		return nil, err
	}
	if len(request.Features) == 0 {
		return nil, status.Error(codes.InvalidArgument, "features are required")
	}
	for idx, feature := range request.Features {
		if strings.TrimSpace(feature.Name) == "" {
			return nil, status.Errorf(codes.InvalidArgument, "features[%d].name is required", idx)
		}
	}

	result, err := s.service.Evaluate(ctx, service.EvaluateRequest{
		Version:  request.Version,
		Features: request.Features,
		Sources:  requestSources(request.Overrides),
	})
	if err != nil {
		return nil, toGRPCError(err)
	}

	return encodeStruct(result)
}

func (s *GRPCServer) EvaluateManifest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var request grpcEvaluateRequest
	if err := decodeStruct(req, &request); err != nil {
		return nil, err
	}
	if len(request.Features) > 0 {
		return nil, status.Error(codes.InvalidArgument, "features are taken from the manifest")
	}

	result, err := s.service.EvaluateManifest(ctx, request.Version, requestSources(request.Overrides))
	if err != nil {
		return nil, toGRPCError(err)
	}

	return encodeStruct(result)
}

func requestSources(overrides map[string]any) []core.StateSource {
	if len(overrides) == 0 {
		return nil
	}
	return []core.StateSource{requestOverrides{sources.NewMapSource(overrides)}}
}

// requestOverrides are the "overrides" object of a gRPC request.
type requestOverrides struct {
	*sources.MapSource
}

func (requestOverrides) SourceName() string {
	return "request"
}

func decodeStruct(req *structpb.Struct, dst any) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}

	payload, err := json.Marshal(req.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid request")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidRange) {
			return status.Error(codes.InvalidArgument, "invalid requirement: "+err.Error())
		}
		return status.Error(codes.InvalidArgument, "invalid request")
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case isClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrOverrideNotFound):
		return status.Error(codes.NotFound, "override not found")
	case errors.Is(err, service.ErrManifestNotConfigured):
		return status.Error(codes.FailedPrecondition, "manifest not configured")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
