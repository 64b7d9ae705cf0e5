// Package server exposes a running marl image for remote evaluation over
// gRPC (CBOR codec) and Connect (HTTP with JSON or CBOR).
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/store"
	"github.com/chazu/marl/vm"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
)

var log = commonlog.GetLogger("marl.server")

// Server wraps a runtime with its worker and both transports.
type Server struct {
	worker   *VMWorker
	handles  *HandleStore
	sessions *SessionStore
	eval     *EvalService
	mux      *http.ServeMux
	grpc     *grpc.Server

	stopSweeper func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	compilerOptions compiler.Options
	store           *store.Store
	sweepInterval   time.Duration
	handleTTL       time.Duration
}

// WithCompilerOptions sets the options evaluations are compiled with.
func WithCompilerOptions(opts compiler.Options) Option {
	return func(c *serverConfig) { c.compilerOptions = opts }
}

// WithStore enables the Snapshot endpoint.
func WithStore(st *store.Store) Option {
	return func(c *serverConfig) { c.store = st }
}

// WithHandleTTL sets how long an unused result handle is kept.
func WithHandleTTL(interval, ttl time.Duration) Option {
	return func(c *serverConfig) {
		c.sweepInterval = interval
		c.handleTTL = ttl
	}
}

// New creates a Server wrapping rt. The server owns rt from now on; all
// access goes through its worker.
func New(rt *vm.Runtime, opts ...Option) *Server {
	cfg := &serverConfig{
		compilerOptions: compiler.DefaultOptions(),
		sweepInterval:   5 * time.Minute,
		handleTTL:       30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(rt, cfg.compilerOptions)
	handles := NewHandleStore()
	sessions := NewSessionStore()
	eval := NewEvalService(worker, handles, sessions, cfg.store)

	s := &Server{
		worker:   worker,
		handles:  handles,
		sessions: sessions,
		eval:     eval,
		mux:      http.NewServeMux(),
		grpc:     grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor)),
	}
	RegisterEvalServer(s.grpc, eval)
	ConnectHandlers(s.mux, eval)

	s.stopSweeper = handles.StartSweeper(worker, cfg.sweepInterval, cfg.handleTTL)
	return s
}

// Eval returns the evaluation service.
func (s *Server) Eval() *EvalService { return s.eval }

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve serves gRPC on grpcLis and Connect on httpLis until ctx is done
// or either server fails. Either listener may be nil.
func (s *Server) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	errc := make(chan error, 2)
	httpServer := &http.Server{Handler: s.mux}

	if grpcLis != nil {
		log.Infof("gRPC (cbor) listening on %s", grpcLis.Addr())
		go func() { errc <- s.grpc.Serve(grpcLis) }()
	}
	if httpLis != nil {
		log.Infof("Connect (json) listening on http://%s%s", httpLis.Addr(), evaluateProcedure)
		go func() {
			if err := httpServer.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpLis != nil {
		httpServer.Shutdown(shutdownCtx)
	}
	s.grpc.GracefulStop()
	return err
}

// ListenAndServe listens on grpcAddr and httpAddr and serves until ctx is
// done. An empty address disables that transport.
func (s *Server) ListenAndServe(ctx context.Context, grpcAddr, httpAddr string) error {
	var grpcLis, httpLis net.Listener
	var err error
	if grpcAddr != "" {
		if grpcLis, err = net.Listen("tcp", grpcAddr); err != nil {
			return err
		}
	}
	if httpAddr != "" {
		if httpLis, err = net.Listen("tcp", httpAddr); err != nil {
			if grpcLis != nil {
				grpcLis.Close()
			}
			return err
		}
	}
	return s.Serve(ctx, grpcLis, httpLis)
}

// Stop shuts down the worker. Serve must have returned first.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
