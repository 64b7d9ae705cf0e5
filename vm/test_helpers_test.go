package vm

import (
	"bytes"
	"testing"
)

// newTestRuntime builds a runtime with automatic collection off and
// Transcript output captured.
func newTestRuntime(t *testing.T) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	rt := NewRuntime(Options{Output: &out, Byteslice: 100, StackLimit: 1000})
	return rt, &out
}

// installPrimitive installs selector on class backed by prim. The method
// body answers nil when the primitive fails.
func installPrimitive(t *testing.T, rt *Runtime, class Value, selector, prim string) {
	t.Helper()
	a := NewAssembler(rt)
	a.Emit(OpPushConstant, ConstNil)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: selector, Primitive: prim, ArgumentsCount: SelectorArity(selector)})
	rt.InstallMethod(class, m)
}

// installArithmetic installs the SmallInteger selectors the tests send.
func installArithmetic(t *testing.T, rt *Runtime) {
	t.Helper()
	installPrimitive(t, rt, rt.Classes.SmallInteger, "+", "SmallInteger_plus")
	installPrimitive(t, rt, rt.Classes.SmallInteger, ">", "SmallInteger_gt")
	installPrimitive(t, rt, rt.Classes.SmallInteger, "*", "SmallInteger_mul")
	installPrimitive(t, rt, rt.Classes.BlockClosure, "value", "BlockClosure_value")
	installPrimitive(t, rt, rt.Classes.BlockClosure, "value:", "BlockClosure_value")
	installPrimitive(t, rt, rt.Classes.Semaphore, "wait", "Semaphore_wait")
	installPrimitive(t, rt, rt.Classes.Semaphore, "signal", "Semaphore_signal")
}

// doIt builds a method from a and evaluates it with receiver nil.
func doIt(t *testing.T, rt *Runtime, a *Assembler) Value {
	t.Helper()
	m := a.Method(MethodSpec{Selector: "doIt"})
	v, err := rt.Evaluate(m, Nil)
	if err != nil {
		t.Fatalf("Evaluate: %v\n%s", err, rt.Disassemble(m))
	}
	return v
}

// spinningProcess creates a ready process that loops forever.
func spinningProcess(t *testing.T, rt *Runtime) Value {
	t.Helper()
	a := NewAssembler(rt)
	a.Emit(OpPushConstant, ConstNil)
	a.Special(SpecialPopTop)
	loop := a.NewLabel()
	a.Bind(loop)
	a.Emit(OpPushConstant, ConstNil)
	a.Special(SpecialPopTop)
	a.Jump(SpecialBranch, loop)
	p := rt.NewMethodProcess(a.Method(MethodSpec{Selector: "spin"}), Nil)
	rt.Scheduler.Schedule(p)
	rt.Scheduler.Resume(p)
	return p
}

// semaphoreProcess creates a ready process that sends selector (wait or
// signal) to sem and answers 1.
func semaphoreProcess(t *testing.T, rt *Runtime, sem Value, selector string) Value {
	t.Helper()
	a := NewAssembler(rt)
	a.Emit(OpPushLiteral, a.Literal(sem))
	a.Send(selector, 0)
	a.Special(SpecialPopTop)
	a.PushInt(1)
	a.Special(SpecialStackReturn)
	p := rt.NewMethodProcess(a.Method(MethodSpec{Selector: selector + "er"}), Nil)
	return p
}
