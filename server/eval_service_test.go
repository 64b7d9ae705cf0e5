package server

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/marl/store"
	"github.com/chazu/marl/vm"
)

// ---------------------------------------------------------------------------
// Evaluate: happy paths
// ---------------------------------------------------------------------------

func TestEvaluate_Results(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		source    string
		result    string
		className string
	}{
		{"42", "42", "SmallInteger"},
		{"3 + 4", "7", "SmallInteger"},
		{"'hello'", "'hello'", "String"},
		{"#foo", "#foo", "Symbol"},
		{"true", "true", "True"},
		{"nil", "nil", "UndefinedObject"},
		{"#(1 $a)", "(1 $a )", "Array"},
		{"100 factorial // 99 factorial", "100", "SmallInteger"},
		{"Object", "Object", "Object class"},
	}
	for _, tt := range tests {
		resp := env.evaluate(t, tt.source)
		if resp.Error != "" {
			t.Errorf("%s: error %s", tt.source, resp.Error)
			continue
		}
		if resp.Result != tt.result {
			t.Errorf("%s = %q, want %q", tt.source, resp.Result, tt.result)
		}
		if resp.ClassName != tt.className {
			t.Errorf("%s class = %q, want %q", tt.source, resp.ClassName, tt.className)
		}
	}
}

func TestEvaluate_StatePersistsBetweenRequests(t *testing.T) {
	env := newTestEnv(t)

	env.evaluate(t, "Counter := 10")
	resp := env.evaluate(t, "Counter := Counter + 5. Counter")
	if resp.Result != "15" {
		t.Errorf("result = %q, want 15", resp.Result)
	}
}

func TestEvaluate_CapturesTranscript(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "Transcript show: 'hi'; cr. 3")
	if resp.Output != "hi\n" {
		t.Errorf("output = %q", resp.Output)
	}
	if env.Out.Len() != 0 {
		t.Errorf("runtime output received %q", env.Out.String())
	}
}

func TestEvaluate_RunsForkedProcesses(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "[Transcript show: 'child'] fork. 1")
	if resp.Result != "1" || resp.Output != "child" {
		t.Errorf("result %q, output %q", resp.Result, resp.Output)
	}
	resp = env.evaluate(t, "x := 0. [x := 1] fork. Processor yield. x")
	if resp.Result != "1" {
		t.Errorf("yield result = %q", resp.Result)
	}
}

func TestEvaluate_UnhandledErrorPrints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "nil foo")
	if resp.Result != "nil" {
		t.Errorf("result = %q", resp.Result)
	}
	if !strings.Contains(resp.Output, "doesNotUnderstand: #foo") {
		t.Errorf("output = %q", resp.Output)
	}
}

// ---------------------------------------------------------------------------
// Evaluate: errors
// ---------------------------------------------------------------------------

func TestEvaluate_EmptySource(t *testing.T) {
	env := newTestEnv(t)

	for _, src := range []string{"", "   \n"} {
		if _, err := env.Eval.Evaluate(bg(), &EvalRequest{Source: src}); !errors.Is(err, ErrEmptySource) {
			t.Errorf("Evaluate(%q) error = %v", src, err)
		}
	}
}

func TestEvaluate_CompileError(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "3 + ")
	if !strings.HasPrefix(resp.Error, "compile error:") {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Result != "" {
		t.Errorf("result = %q", resp.Result)
	}
}

func TestEvaluate_CanceledContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(bg())
	cancel()
	if _, err := env.Eval.Evaluate(ctx, &EvalRequest{Source: "1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handles and sessions
// ---------------------------------------------------------------------------

func TestEvaluate_ReceiverHandle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "#(10 20 30)")
	if resp.Handle == "" {
		t.Fatal("heap result should have a handle")
	}
	for _, src := range []string{"7", "nil", "3 < 4", "$a"} {
		if r := env.evaluate(t, src); r.Handle != "" {
			t.Errorf("%s: shared result got handle %q", src, r.Handle)
		}
	}

	inner, err := env.Eval.Evaluate(bg(), &EvalRequest{Source: "self at: 2", Receiver: resp.Handle})
	if err != nil {
		t.Fatal(err)
	}
	if inner.Result != "20" {
		t.Errorf("self at: 2 = %q (%s)", inner.Result, inner.Error)
	}

	if _, err := env.Eval.Evaluate(bg(), &EvalRequest{Source: "self", Receiver: "h-999"}); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown handle error = %v", err)
	}
}

func TestEvaluate_HandlePinsObject(t *testing.T) {
	env := newTestEnv(t)

	resp := env.evaluate(t, "'pinned' copy")
	env.evaluate(t, "Smalltalk collectGarbage")

	v, ok := env.Handles.Lookup(resp.Handle)
	if !ok {
		t.Fatal("handle vanished")
	}
	got, err := env.Worker.Do(func(rt *vm.Runtime) (any, error) {
		return rt.PrintString(v), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "'pinned'" {
		t.Errorf("pinned object = %v", got)
	}

	if err := env.Eval.Release(resp.Handle); err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Handles.Lookup(resp.Handle); ok {
		t.Error("handle survived Release")
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t)

	session := env.Eval.OpenSession("work")
	if session.ID == "" || session.Name != "work" {
		t.Fatalf("session = %+v", session)
	}

	for _, src := range []string{"Object new", "'a' copy"} {
		resp, err := env.Eval.Evaluate(bg(), &EvalRequest{Source: src, Session: session.ID})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Handle == "" {
			t.Fatalf("%s: no handle", src)
		}
	}
	env.evaluate(t, "Object new")
	if env.Handles.Len() != 3 {
		t.Fatalf("handles = %d, want 3", env.Handles.Len())
	}

	if err := env.Eval.CloseSession(session.ID); err != nil {
		t.Fatal(err)
	}
	if env.Handles.Len() != 1 {
		t.Errorf("handles after close = %d, want 1", env.Handles.Len())
	}
	if err := env.Eval.CloseSession(session.ID); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second close error = %v", err)
	}
	if _, err := env.Eval.Evaluate(bg(), &EvalRequest{Source: "1", Session: session.ID}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("closed session error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Eval.Snapshot(bg(), &SnapshotRequest{Name: "x"}); !errors.Is(err, ErrNoStore) {
		t.Errorf("snapshot without store error = %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	svc := NewEvalService(env.Worker, env.Handles, env.Sessions, st)

	env.evaluate(t, "Saved := 'kept'")
	resp, err := svc.Snapshot(bg(), &SnapshotRequest{Name: "mine"})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if resp.ID == "" || resp.Size == 0 {
		t.Errorf("response = %+v", resp)
	}

	opts := vm.DefaultOptions()
	opts.Output = env.Out
	rt, err := st.Load(bg(), resp.ID, opts)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := rt.Global("Saved")
	if !ok || rt.PrintString(v) != "'kept'" {
		t.Errorf("Saved = %s", rt.PrintString(v))
	}
}
