package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/kernel"
	"github.com/chazu/marl/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Each test gets its own kernel-loaded runtime, worker and stores; loading
// the kernel is cheap enough that isolation wins over sharing.
// ---------------------------------------------------------------------------

// testEnv bundles a fresh runtime with its worker and stores.
type testEnv struct {
	Worker   *VMWorker
	Handles  *HandleStore
	Sessions *SessionStore
	Eval     *EvalService
	Out      *bytes.Buffer
}

func newTestRuntime(t *testing.T) (*vm.Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts := vm.DefaultOptions()
	opts.Output = &out
	rt, err := kernel.NewRuntime(opts)
	if err != nil {
		t.Fatalf("kernel: %v", err)
	}
	return rt, &out
}

// newTestEnv creates a runtime, worker and eval service, stopped when the
// test ends.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rt, out := newTestRuntime(t)
	w := NewVMWorker(rt, compiler.DefaultOptions())
	t.Cleanup(w.Stop)
	h := NewHandleStore()
	s := NewSessionStore()
	return &testEnv{
		Worker:   w,
		Handles:  h,
		Sessions: s,
		Eval:     NewEvalService(w, h, s, nil),
		Out:      out,
	}
}

// evaluate runs source through the eval service and fails the test on a
// transport-level error.
func (e *testEnv) evaluate(t *testing.T, source string) *EvalResponse {
	t.Helper()
	resp, err := e.Eval.Evaluate(bg(), &EvalRequest{Source: source})
	if err != nil {
		t.Fatalf("Evaluate(%q) returned error: %v", source, err)
	}
	return resp
}

func bg() context.Context {
	return context.Background()
}
