package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/marl/store"
	"github.com/chazu/marl/vm"
)

var (
	// ErrEmptySource is returned for a request without source.
	ErrEmptySource = errors.New("source is required")
	// ErrUnknownHandle is returned when a receiver handle does not exist.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrUnknownSession is returned when a session does not exist.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNoStore is returned by Snapshot when the server has no store.
	ErrNoStore = errors.New("no snapshot store configured")
)

// EvalRequest asks for source to be compiled and run as a do-it. Receiver
// names a handle whose object becomes self; Session owns the result handle.
type EvalRequest struct {
	Source   string `cbor:"source" json:"source"`
	Receiver string `cbor:"receiver,omitempty" json:"receiver,omitempty"`
	Session  string `cbor:"session,omitempty" json:"session,omitempty"`
}

// EvalResponse carries the printString of the result, or the error that
// stopped the evaluation. Output is the Transcript text written while the
// request ran.
type EvalResponse struct {
	Result    string `cbor:"result" json:"result"`
	ClassName string `cbor:"class,omitempty" json:"class,omitempty"`
	Handle    string `cbor:"handle,omitempty" json:"handle,omitempty"`
	Output    string `cbor:"output,omitempty" json:"output,omitempty"`
	Error     string `cbor:"error,omitempty" json:"error,omitempty"`
}

// SnapshotRequest asks for the running image to be saved to the store.
type SnapshotRequest struct {
	Name string `cbor:"name" json:"name"`
}

// SnapshotResponse identifies the saved snapshot.
type SnapshotResponse struct {
	ID   string `cbor:"id" json:"id"`
	Size int    `cbor:"size" json:"size"`
}

// EvalService evaluates source on the worker's runtime. The gRPC and
// Connect transports both delegate to it.
type EvalService struct {
	worker   *VMWorker
	handles  *HandleStore
	sessions *SessionStore
	store    *store.Store
}

// NewEvalService creates an EvalService. st may be nil.
func NewEvalService(worker *VMWorker, handles *HandleStore, sessions *SessionStore, st *store.Store) *EvalService {
	return &EvalService{
		worker:   worker,
		handles:  handles,
		sessions: sessions,
		store:    st,
	}
}

// Evaluate compiles and executes req.Source. Compile and runtime errors
// are reported in the response; the returned error is for requests that
// could not be attempted at all.
func (s *EvalService) Evaluate(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, ErrEmptySource
	}
	if req.Session != "" {
		if _, ok := s.sessions.Get(req.Session); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, req.Session)
		}
	}
	receiver := vm.Nil
	if req.Receiver != "" {
		v, ok := s.handles.Lookup(req.Receiver)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, req.Receiver)
		}
		receiver = v
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.worker.Do(func(rt *vm.Runtime) (any, error) {
		return s.evaluate(ctx, rt, source, receiver, req.Session), nil
	})
	if err != nil {
		return &EvalResponse{Error: err.Error()}, nil
	}
	return result.(*EvalResponse), nil
}

// evaluate runs on the worker goroutine.
// Processes the do-it forked are run before the transcript is captured.
func (s *EvalService) evaluate(ctx context.Context, rt *vm.Runtime, source string, receiver vm.Value, session string) *EvalResponse {
	var out bytes.Buffer
	saved := rt.Output
	rt.Output = &out
	defer func() { rt.Output = saved }()

	method, err := s.worker.Compiler().CompileExpression(source)
	if err != nil {
		return &EvalResponse{Error: "compile error: " + err.Error()}
	}
	value, err := rt.Evaluate(method, receiver)
	if err != nil {
		s.drain(ctx, rt)
		return &EvalResponse{Output: out.String(), Error: err.Error()}
	}

	className := rt.ClassNameOf(rt.ClassOf(value))
	resp := &EvalResponse{
		Result:    rt.PrintString(value),
		ClassName: className,
	}
	if needsHandle(rt, value) {
		resp.Handle = s.handles.Create(rt, value, className, session)
	}
	s.drain(ctx, rt)
	resp.Output = out.String()
	return resp
}

func (s *EvalService) drain(ctx context.Context, rt *vm.Runtime) {
	if err := rt.Scheduler.Drain(ctx); err != nil {
		log.Warningf("forked processes: %v", err)
	}
}

// needsHandle reports whether v is a heap object worth referring back to.
// Singletons and characters are answered by their printString alone.
func needsHandle(rt *vm.Runtime, v vm.Value) bool {
	if !v.IsObject() || v == vm.Nil || v == vm.True || v == vm.False {
		return false
	}
	_, isChar := rt.CharacterCode(v)
	return !isChar
}

// Release drops a result handle.
func (s *EvalService) Release(id string) error {
	_, err := s.worker.Do(func(rt *vm.Runtime) (any, error) {
		s.handles.Release(rt, id)
		return nil, nil
	})
	return err
}

// OpenSession starts a session.
func (s *EvalService) OpenSession(name string) *Session {
	return s.sessions.Create(name)
}

// CloseSession ends a session and releases its handles.
func (s *EvalService) CloseSession(id string) error {
	if !s.sessions.Remove(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	_, err := s.worker.Do(func(rt *vm.Runtime) (any, error) {
		return s.handles.ReleaseSession(rt, id), nil
	})
	return err
}

// Snapshot saves the running image to the store.
func (s *EvalService) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	name := req.Name
	if name == "" {
		name = "snapshot"
	}
	image, err := s.worker.Do(func(rt *vm.Runtime) (any, error) {
		var buf bytes.Buffer
		if err := rt.SaveImage(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}
	snap, err := s.store.SaveBytes(ctx, name, image.([]byte))
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{ID: snap.ID, Size: snap.Size}, nil
}
