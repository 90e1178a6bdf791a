package grpc

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"zenj-service/internal/observability"
	"zenj-service/internal/responder"
)

// NewServer builds the service's gRPC server with metrics and tracing, the
// standard health service, and the given responder exposed under the
// Responder service name when r is non-nil.
func NewServer(r responder.Responder, logger *zap.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if r != nil {
		RegisterResponderServer(srv, r, logger)
		hs.SetServingStatus(responderService, healthpb.HealthCheckResponse_SERVING)
	}
	return srv, hs
}

// RegisterResponderServer exposes r as the Responder gRPC service.
func RegisterResponderServer(s grpc.ServiceRegistrar, r responder.Responder, logger *zap.Logger) {
	s.RegisterService(&responderServiceDesc, &responderServer{r: r, logger: logger})
}

type responderServer struct {
	r      responder.Responder
	logger *zap.Logger
}

func (s *responderServer) generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	reply, err := s.r.Respond(ctx, decodeRequest(in))
	if err != nil {
		s.logger.Warn("responder failed", zap.Error(err))
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"content": reply.Content})
}

type responderHandler interface {
	generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var responderServiceDesc = grpc.ServiceDesc{
	ServiceName: responderService,
	HandlerType: (*responderHandler)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(responderHandler)
			if interceptor == nil {
				return h.generate(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: responderGenerateRPC}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return h.generate(ctx, req.(*structpb.Struct))
			})
		},
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zenj/responder/v1/responder.proto",
}
