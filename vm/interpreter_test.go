package vm

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// End-to-end evaluation
// ---------------------------------------------------------------------------

func TestFullSendAddition(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installArithmetic(t, rt)

	a := NewAssembler(rt)
	a.PushInt(41)
	a.PushInt(22)
	a.Send("+", 1)
	a.Special(SpecialStackReturn)

	if got := doIt(t, rt, a); got != FromSmallInt(63) {
		t.Errorf("41 + 22 = %s, want 63", rt.PrintString(got))
	}
}

func TestBinaryFastPath(t *testing.T) {
	rt, _ := newTestRuntime(t)

	tests := []struct {
		a, b int64
		op   string
		want Value
	}{
		{41, 22, "+", FromSmallInt(63)},
		{41, 22, "-", FromSmallInt(19)},
		{3, 5, ">", False},
		{3, 5, "<", True},
		{5, 5, "<=", True},
		{4, 5, ">=", False},
		{5, 5, "=", True},
		{5, 5, "~=", False},
	}
	for _, tt := range tests {
		op := -1
		for i, s := range BinarySelectors {
			if s == tt.op {
				op = i
			}
		}
		a := NewAssembler(rt)
		a.PushInt(tt.a)
		a.PushInt(tt.b)
		a.Emit(OpSendBinary, op)
		a.Special(SpecialStackReturn)
		if got := doIt(t, rt, a); got != tt.want {
			t.Errorf("%d %s %d = %s, want %s", tt.a, tt.op, tt.b, rt.PrintString(got), rt.PrintString(tt.want))
		}
	}
}

func TestBinaryFastPathOverflowSends(t *testing.T) {
	rt, _ := newTestRuntime(t)
	// + is deliberately left undefined: an overflowing sum must fall back
	// to a real send and reach doesNotUnderstand:.
	a := NewAssembler(rt)
	a.PushInt(MaxSmallInt)
	a.PushInt(1)
	a.Emit(OpSendBinary, 0)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "doIt"})

	_, err := rt.Evaluate(m, Nil)
	if !errors.Is(err, ErrDoesNotUnderstand) {
		t.Fatalf("err = %v, want ErrDoesNotUnderstand", err)
	}
}

func TestComparisonSend(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installArithmetic(t, rt)

	a := NewAssembler(rt)
	a.PushInt(3)
	a.PushInt(5)
	a.Send(">", 1)
	a.Special(SpecialStackReturn)

	if got := doIt(t, rt, a); got != False {
		t.Errorf("3 > 5 = %s, want false", rt.PrintString(got))
	}
}

func TestUnaryFastPath(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := NewAssembler(rt)
	a.Emit(OpPushConstant, ConstNil)
	a.Emit(OpSendUnary, 0)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != True {
		t.Errorf("nil isNil = %s", rt.PrintString(got))
	}

	a = NewAssembler(rt)
	a.PushInt(1)
	a.Emit(OpSendUnary, 1)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != True {
		t.Errorf("1 notNil = %s", rt.PrintString(got))
	}
}

// blockTimesTwo builds [:x | x * 2].
func blockTimesTwo(rt *Runtime) Value {
	b := NewAssembler(rt)
	b.Emit(OpPushArgument, 1)
	b.PushInt(2)
	b.Send("*", 1)
	b.Special(SpecialSelfReturn)
	return b.Block(MethodSpec{Selector: "[]", ArgumentsCount: 1})
}

func TestBlockValue(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installArithmetic(t, rt)

	a := NewAssembler(rt)
	a.Emit(OpPushLiteral, a.Literal(rt.NewClosure(blockTimesTwo(rt))))
	a.Special(SpecialSetDefinedContext)
	a.PushInt(21)
	a.Send("value:", 1)
	a.Special(SpecialStackReturn)

	if got := doIt(t, rt, a); got != FromSmallInt(42) {
		t.Errorf("[:x | x * 2] value: 21 = %s, want 42", rt.PrintString(got))
	}
}

func TestBlockArityMismatchRunsFallback(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installArithmetic(t, rt)

	// value on a one-argument block: the primitive fails and the method
	// body answers nil.
	a := NewAssembler(rt)
	a.Emit(OpPushLiteral, a.Literal(rt.NewClosure(blockTimesTwo(rt))))
	a.Special(SpecialSetDefinedContext)
	a.Send("value", 0)
	a.Special(SpecialStackReturn)

	if got := doIt(t, rt, a); got != Nil {
		t.Errorf("got %s, want nil", rt.PrintString(got))
	}
}

func TestNonLocalReturn(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installArithmetic(t, rt)

	// [:x | ^x] value: 5. ^0
	b := NewAssembler(rt)
	b.Emit(OpPushArgument, 1)
	b.Special(SpecialStackReturn)
	block := b.Block(MethodSpec{Selector: "[]", ArgumentsCount: 1})

	a := NewAssembler(rt)
	a.Emit(OpPushLiteral, a.Literal(rt.NewClosure(block)))
	a.Special(SpecialSetDefinedContext)
	a.PushInt(5)
	a.Send("value:", 1)
	a.Special(SpecialPopTop)
	a.PushInt(0)
	a.Special(SpecialStackReturn)

	if got := doIt(t, rt, a); got != FromSmallInt(5) {
		t.Errorf("got %s, want 5", rt.PrintString(got))
	}
}

func TestSetDefinedContextCopiesClosure(t *testing.T) {
	rt, _ := newTestRuntime(t)
	b := NewAssembler(rt)
	b.Emit(OpPushConstant, ConstNil)
	b.Special(SpecialSelfReturn)
	literal := rt.NewClosure(b.Block(MethodSpec{Selector: "[]"}))

	a := NewAssembler(rt)
	a.Emit(OpPushLiteral, a.Literal(literal))
	a.Special(SpecialSetDefinedContext)
	a.Special(SpecialStackReturn)

	got := doIt(t, rt, a)
	if got == literal {
		t.Fatal("block literal was bound in place")
	}
	if rt.Memory.Object(literal).Vars[ClosureDefinedContext] != Nil {
		t.Error("literal closure gained a defining context")
	}
	if rt.Memory.Object(got).Vars[ClosureDefinedContext] == Nil {
		t.Error("evaluated closure has no defining context")
	}
}

func TestBranches(t *testing.T) {
	rt, _ := newTestRuntime(t)

	// false ifTrue: [1] answers nil through the branch-if-true asymmetry.
	a := NewAssembler(rt)
	end := a.NewLabel()
	a.Emit(OpPushConstant, ConstFalse)
	a.Jump(SpecialBranchIfTrue, end)
	a.PushInt(1)
	a.Bind(end)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != Nil {
		t.Errorf("false ifTrue: [1] = %s, want nil", rt.PrintString(got))
	}

	a = NewAssembler(rt)
	end = a.NewLabel()
	a.Emit(OpPushConstant, ConstTrue)
	a.Jump(SpecialBranchIfTrue, end)
	a.PushInt(1)
	a.Bind(end)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != FromSmallInt(1) {
		t.Errorf("true ifTrue: [1] = %s, want 1", rt.PrintString(got))
	}

	a = NewAssembler(rt)
	end = a.NewLabel()
	a.Emit(OpPushConstant, ConstTrue)
	a.Jump(SpecialBranchIfFalse, end)
	a.PushInt(1)
	a.Bind(end)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != Nil {
		t.Errorf("true ifFalse: [1] = %s, want nil", rt.PrintString(got))
	}
}

func TestExtendedOperand(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	for i := 0; i < 300; i++ {
		a.Literal(FromSmallInt(int64(i)))
	}
	a.Emit(OpPushLiteral, 299)
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != FromSmallInt(299) {
		t.Errorf("literal 299 = %s", rt.PrintString(got))
	}
}

func TestPushArrayAndDuplicate(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	a.PushInt(7)
	a.Special(SpecialDuplicate)
	a.Emit(OpPushArray, 2)
	a.Special(SpecialStackReturn)

	got := doIt(t, rt, a)
	vals := rt.ArrayValues(got)
	if len(vals) != 2 || vals[0] != FromSmallInt(7) || vals[1] != FromSmallInt(7) {
		t.Errorf("got %s, want (7 7 )", rt.PrintString(got))
	}
}

func TestTemporariesAndInstanceVariables(t *testing.T) {
	rt, _ := newTestRuntime(t)
	class := rt.NewClass("Point", rt.Classes.Object, []string{"x", "y"})
	p := rt.Instantiate(class, 0)

	// x := 3. t := x. ^t
	a := NewAssembler(rt)
	a.PushInt(3)
	a.Emit(OpAssignInstance, 0)
	a.Special(SpecialPopTop)
	a.Emit(OpPushInstance, 0)
	a.Emit(OpAssignTemporary, 0)
	a.Special(SpecialPopTop)
	a.Emit(OpPushTemporary, 0)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "test", TemporariesCount: 1})

	got, err := rt.Evaluate(m, p)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromSmallInt(3) {
		t.Errorf("got %s, want 3", rt.PrintString(got))
	}
	if rt.Memory.Object(p).Vars[0] != FromSmallInt(3) {
		t.Error("instance variable not assigned")
	}
}

func TestPushGlobal(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.SetGlobal("Answer", FromSmallInt(42))

	a := NewAssembler(rt)
	a.Emit(OpPushGlobal, a.Selector("Answer"))
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != FromSmallInt(42) {
		t.Errorf("Answer = %s", rt.PrintString(got))
	}

	a = NewAssembler(rt)
	a.Emit(OpPushGlobal, a.Selector("Unbound"))
	a.Special(SpecialStackReturn)
	if got := doIt(t, rt, a); got != Nil {
		t.Errorf("Unbound = %s, want nil", rt.PrintString(got))
	}
}

func TestImplicitSelfReturn(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	a.PushInt(1)
	a.Special(SpecialPopTop)
	m := a.Method(MethodSpec{Selector: "noReturn"})

	got, err := rt.Evaluate(m, FromSmallInt(9))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromSmallInt(9) {
		t.Errorf("got %s, want the receiver", rt.PrintString(got))
	}
}

// ---------------------------------------------------------------------------
// Send failures
// ---------------------------------------------------------------------------

func TestDoesNotUnderstandWithoutHandlerIsFatal(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	a.PushInt(3)
	a.Send("frobnicate", 0)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "doIt"})

	_, err := rt.Evaluate(m, Nil)
	if !errors.Is(err, ErrDoesNotUnderstand) {
		t.Fatalf("err = %v, want ErrDoesNotUnderstand", err)
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error %q does not name the selector", err)
	}
}

func TestDoesNotUnderstandHandler(t *testing.T) {
	rt, _ := newTestRuntime(t)

	// Object>>doesNotUnderstand: aMessage  ^aMessage
	h := NewAssembler(rt)
	h.Emit(OpPushArgument, 1)
	h.Special(SpecialStackReturn)
	rt.InstallMethod(rt.Classes.Object, h.Method(MethodSpec{Selector: "doesNotUnderstand:", ArgumentsCount: 1}))

	a := NewAssembler(rt)
	a.PushInt(3)
	a.PushInt(4)
	a.Send("frobnicate:", 1)
	a.Special(SpecialStackReturn)

	msg := doIt(t, rt, a)
	mo := rt.Memory.Object(msg)
	if mo == nil || mo.Class != rt.Classes.Message {
		t.Fatalf("got %s, want a Message", rt.PrintString(msg))
	}
	if rt.SymbolString(mo.Vars[MessageSelector]) != "frobnicate:" {
		t.Errorf("selector = %s", rt.PrintString(mo.Vars[MessageSelector]))
	}
	if args := rt.ArrayValues(mo.Vars[MessageArguments]); len(args) != 1 || args[0] != FromSmallInt(4) {
		t.Errorf("arguments = %s", rt.PrintString(mo.Vars[MessageArguments]))
	}
}

func TestStackOverflow(t *testing.T) {
	rt := NewRuntime(Options{StackLimit: 50})

	a := NewAssembler(rt)
	a.Emit(OpPushArgument, 0)
	a.Send("recurse", 0)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "recurse"})
	rt.InstallMethod(rt.Classes.UndefinedObject, m)

	_, err := rt.Evaluate(m, Nil)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
}

func TestSendSuper(t *testing.T) {
	rt, _ := newTestRuntime(t)
	base := rt.NewClass("Base", rt.Classes.Object, nil)
	derived := rt.NewClass("Derived", base, nil)

	ret := func(n int64) *Assembler {
		a := NewAssembler(rt)
		a.PushInt(n)
		a.Special(SpecialStackReturn)
		return a
	}
	rt.InstallMethod(base, ret(1).Method(MethodSpec{Selector: "answer"}))
	rt.InstallMethod(derived, ret(2).Method(MethodSpec{Selector: "answer"}))

	a := NewAssembler(rt)
	a.Emit(OpPushArgument, 0)
	a.SendSuper("answer", 0)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "superAnswer"})
	rt.InstallMethod(derived, m)

	got, err := rt.Evaluate(m, rt.Instantiate(derived, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromSmallInt(1) {
		t.Errorf("super answer = %s, want 1", rt.PrintString(got))
	}
}

// ---------------------------------------------------------------------------
// do-primitive
// ---------------------------------------------------------------------------

func TestDoPrimitive(t *testing.T) {
	rt, _ := newTestRuntime(t)
	plus, _ := PrimitiveIndex("SmallInteger_plus")

	build := func(arg Value) Value {
		a := NewAssembler(rt)
		a.PushInt(41)
		a.Emit(OpPushLiteral, a.Literal(arg))
		a.Emit(OpMarkArguments, 1)
		a.Emit(OpDoPrimitive, plus)
		a.PushInt(0)
		a.Special(SpecialStackReturn)
		return a.Method(MethodSpec{Selector: "doIt"})
	}

	got, err := rt.Evaluate(build(FromSmallInt(1)), Nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromSmallInt(42) {
		t.Errorf("success = %s, want 42", rt.PrintString(got))
	}

	got, err = rt.Evaluate(build(rt.NewString("x")), Nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromSmallInt(0) {
		t.Errorf("failure = %s, want the fallback 0", rt.PrintString(got))
	}
}

func TestLargeIntegerFallback(t *testing.T) {
	rt, _ := newTestRuntime(t)
	largeMul, _ := PrimitiveIndex("LargeInteger_mul")

	// SmallInteger>>* retries with LargeInteger_mul when the small
	// primitive overflows.
	f := NewAssembler(rt)
	f.Emit(OpPushArgument, 0)
	f.Emit(OpPushArgument, 1)
	f.Emit(OpMarkArguments, 1)
	f.Emit(OpDoPrimitive, largeMul)
	f.Emit(OpPushConstant, ConstNil)
	f.Special(SpecialStackReturn)
	rt.InstallMethod(rt.Classes.SmallInteger, f.Method(MethodSpec{Selector: "*", Primitive: "SmallInteger_mul", ArgumentsCount: 1}))

	a := NewAssembler(rt)
	a.PushInt(1 << 61)
	a.PushInt(4)
	a.Send("*", 1)
	a.Special(SpecialStackReturn)

	got := doIt(t, rt, a)
	n, ok := rt.BigValue(got)
	want := new(big.Int).Lsh(big.NewInt(1), 63)
	if !ok || n.Cmp(want) != 0 {
		t.Errorf("2^61 * 4 = %s, want %s", rt.PrintString(got), want)
	}
	if rt.ClassOf(got) != rt.Classes.LargeInteger {
		t.Errorf("class = %s, want LargeInteger", rt.ClassNameOf(rt.ClassOf(got)))
	}
}

// ---------------------------------------------------------------------------
// Context chains
// ---------------------------------------------------------------------------

func TestCheckContextChainDetectsCycle(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	a.Special(SpecialSelfReturn)
	m := a.Method(MethodSpec{Selector: "x"})

	c1 := rt.newMethodContext(Nil, m, Nil, nil)
	c2 := rt.newMethodContext(c1, m, Nil, nil)
	if err := rt.CheckContextChain(c2, 10); err != nil {
		t.Fatalf("healthy chain: %v", err)
	}
	rt.Memory.Object(c1).Vars[ContextParent] = c2
	if err := rt.CheckContextChain(c2, 10); !errors.Is(err, ErrContextCycle) {
		t.Errorf("err = %v, want ErrContextCycle", err)
	}
}

func TestReturnIntoCyclicChainAborts(t *testing.T) {
	rt, _ := newTestRuntime(t)
	installPrimitive(t, rt, rt.Classes.Object, "instVarAt:put:", "Object_instVarAt_put")

	// thisContext instVarAt: 1 put: thisContext. ^5
	a := NewAssembler(rt)
	a.Emit(OpPushConstant, ConstContext)
	a.PushInt(1)
	a.Emit(OpPushConstant, ConstContext)
	a.Send("instVarAt:put:", 2)
	a.Special(SpecialPopTop)
	a.PushInt(5)
	a.Special(SpecialStackReturn)
	m := a.Method(MethodSpec{Selector: "selfParent"})

	done := make(chan error, 1)
	go func() {
		_, err := rt.Evaluate(m, Nil)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCycle) {
			t.Errorf("err = %v, want ErrContextCycle", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("returning into a cyclic chain did not abort")
	}
}

func TestDisassemble(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAssembler(rt)
	end := a.NewLabel()
	a.Emit(OpPushConstant, ConstTrue)
	a.Jump(SpecialBranchIfFalse, end)
	a.PushInt(1)
	a.Bind(end)
	a.Special(SpecialStackReturn)

	text := rt.Disassemble(a.Method(MethodSpec{Selector: "x"}))
	for _, want := range []string{"PUSH_CONSTANT 1", "BRANCH_IF_FALSE -> 0004", "STACK_RETURN"} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, text)
		}
	}
}
