package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a marl server over gRPC with the CBOR codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the gRPC endpoint at target (host:port). The
// connection is established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(cborCodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Evaluate runs source on the server.
func (c *Client) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	resp := new(EvalResponse)
	if err := c.conn.Invoke(ctx, evaluateProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Snapshot saves the server's image to its store.
func (c *Client) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	resp := new(SnapshotResponse)
	if err := c.conn.Invoke(ctx, snapshotProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NewConnectClient returns a Connect client for the HTTP endpoint at
// baseURL (for example http://127.0.0.1:4568) speaking JSON.
func NewConnectClient(httpClient connect.HTTPClient, baseURL string) *connect.Client[EvalRequest, EvalResponse] {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return connect.NewClient[EvalRequest, EvalResponse](httpClient, baseURL+evaluateProcedure, connect.WithCodec(jsonCodec{}))
}
