package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	evalServiceName     = "marl.Eval"
	evaluateProcedure   = "/marl.Eval/Evaluate"
	snapshotProcedure   = "/marl.Eval/Snapshot"
	evalServiceMetadata = "marl/eval"
)

// EvalServer is the gRPC service implemented by EvalService.
type EvalServer interface {
	Evaluate(context.Context, *EvalRequest) (*EvalResponse, error)
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
}

var evalServiceDesc = grpc.ServiceDesc{
	ServiceName: evalServiceName,
	HandlerType: (*EvalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: evalServiceMetadata,
}

// grpcEval adapts EvalService errors to gRPC status codes.
type grpcEval struct {
	svc *EvalService
}

func (g grpcEval) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	resp, err := g.svc.Evaluate(ctx, req)
	return resp, grpcError(err)
}

func (g grpcEval) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	resp, err := g.svc.Snapshot(ctx, req)
	return resp, grpcError(err)
}

func grpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmptySource):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnknownHandle), errors.Is(err, ErrUnknownSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoStore):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvalServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvalServer).Evaluate(ctx, req.(*EvalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvalServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvalServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterEvalServer registers svc on a gRPC server.
func RegisterEvalServer(s grpc.ServiceRegistrar, svc *EvalService) {
	s.RegisterService(&evalServiceDesc, grpcEval{svc: svc})
}

// loggingInterceptor logs each call at debug level.
func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		log.Debugf("%s: %v", info.FullMethod, err)
	} else {
		log.Debugf("%s", info.FullMethod)
	}
	return resp, err
}
