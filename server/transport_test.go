package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	rt, _ := newTestRuntime(t)
	s := New(rt)
	t.Cleanup(s.Stop)
	return s
}

// ---------------------------------------------------------------------------
// gRPC with the CBOR codec
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, s *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis, nil) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPCEvaluate(t *testing.T) {
	s := newTestServer(t)
	c := dialBufconn(t, s)

	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()

	resp, err := c.Evaluate(ctx, &EvalRequest{Source: "6 * 7"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Result != "42" || resp.ClassName != "SmallInteger" {
		t.Errorf("response = %+v", resp)
	}

	resp, err = c.Evaluate(ctx, &EvalRequest{Source: "Transcript show: 'x'. nil bar"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Output == "" {
		t.Errorf("missing transcript output: %+v", resp)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	s := newTestServer(t)
	c := dialBufconn(t, s)

	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"empty source", func() error {
			_, err := c.Evaluate(ctx, &EvalRequest{})
			return err
		}, codes.InvalidArgument},
		{"unknown handle", func() error {
			_, err := c.Evaluate(ctx, &EvalRequest{Source: "self", Receiver: "h-0"})
			return err
		}, codes.NotFound},
		{"no store", func() error {
			_, err := c.Snapshot(ctx, &SnapshotRequest{Name: "x"})
			return err
		}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Connect over HTTP
// ---------------------------------------------------------------------------

func TestConnectEvaluateJSON(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	client := NewConnectClient(ts.Client(), ts.URL)
	resp, err := client.CallUnary(bg(), connect.NewRequest(&EvalRequest{Source: "#(1 2) collect: [:x | x + 1]"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Result != "(2 3 )" {
		t.Errorf("result = %q (%s)", resp.Msg.Result, resp.Msg.Error)
	}

	_, err = client.CallUnary(bg(), connect.NewRequest(&EvalRequest{}))
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Code() != connect.CodeInvalidArgument {
		t.Errorf("empty source error = %v", err)
	}
}

func TestConnectEvaluateCBOR(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, err := cbor.Marshal(&EvalRequest{Source: "3 + 4"})
	if err != nil {
		t.Fatal(err)
	}
	httpResp, err := ts.Client().Post(ts.URL+evaluateProcedure, "application/cbor", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %s", httpResp.Status)
	}

	var resp EvalResponse
	if err := cbor.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result != "7" {
		t.Errorf("result = %q", resp.Result)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, nil, lis) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
