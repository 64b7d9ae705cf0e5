package server

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
)

// ConnectHandlers mounts the Connect (HTTP) endpoints of svc on mux. Both
// JSON and CBOR request bodies are accepted.
func ConnectHandlers(mux *http.ServeMux, svc *EvalService) {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithCodec(cborCodec{}),
	}

	mux.Handle(evaluateProcedure, connect.NewUnaryHandler(
		evaluateProcedure,
		func(ctx context.Context, req *connect.Request[EvalRequest]) (*connect.Response[EvalResponse], error) {
			resp, err := svc.Evaluate(ctx, req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(resp), nil
		},
		opts...,
	))

	mux.Handle(snapshotProcedure, connect.NewUnaryHandler(
		snapshotProcedure,
		func(ctx context.Context, req *connect.Request[SnapshotRequest]) (*connect.Response[SnapshotResponse], error) {
			resp, err := svc.Snapshot(ctx, req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(resp), nil
		},
		opts...,
	))
}

func connectError(err error) error {
	switch {
	case errors.Is(err, ErrEmptySource):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrUnknownHandle), errors.Is(err, ErrUnknownSession):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrNoStore):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
