package server

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/vm"
)

func TestVMWorkerSerializesRequests(t *testing.T) {
	rt, _ := newTestRuntime(t)
	w := NewVMWorker(rt, compiler.DefaultOptions())
	defer w.Stop()

	if _, err := w.Do(func(rt *vm.Runtime) (any, error) {
		return compiler.Evaluate(rt, "Total := 0")
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Do(func(rt *vm.Runtime) (any, error) {
				return w.Compiler().Evaluate("Total := Total + 1")
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	v, err := w.Do(func(rt *vm.Runtime) (any, error) {
		v, _ := rt.Global("Total")
		return v, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.(vm.Value) != vm.FromSmallInt(20) {
		t.Errorf("Total = %v", v)
	}
}

func TestVMWorkerRecoversPanics(t *testing.T) {
	rt, _ := newTestRuntime(t)
	w := NewVMWorker(rt, compiler.DefaultOptions())
	defer w.Stop()

	_, err := w.Do(func(*vm.Runtime) (any, error) { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %v", err)
	}

	// The worker keeps serving.
	v, err := w.Do(func(*vm.Runtime) (any, error) { return 1, nil })
	if err != nil || v.(int) != 1 {
		t.Errorf("after panic: %v %v", v, err)
	}
}

func TestVMWorkerStop(t *testing.T) {
	rt, _ := newTestRuntime(t)
	w := NewVMWorker(rt, compiler.DefaultOptions())
	w.Stop()
	w.Stop()

	if _, err := w.Do(func(*vm.Runtime) (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop = %v", err)
	}
}

func TestHandleSweep(t *testing.T) {
	rt, _ := newTestRuntime(t)
	h := NewHandleStore()
	obj := rt.NewString("x")
	id := h.Create(rt, obj, "String", "")

	if n := h.Sweep(rt, 1<<62); n != 0 {
		t.Errorf("swept %d fresh handles", n)
	}
	if n := h.Sweep(rt, -1); n != 1 {
		t.Errorf("swept %d handles, want 1", n)
	}
	if _, ok := h.Lookup(id); ok {
		t.Error("handle survived sweep")
	}
}
