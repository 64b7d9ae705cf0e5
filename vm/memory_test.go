package vm

import (
	"errors"
	"testing"
)

func TestAllocateAndReclaim(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := rt.Memory
	rt.Collect()
	before := m.Live()

	kept := rt.NewArray(FromSmallInt(1))
	rt.SetGlobal("Kept", kept)
	for i := 0; i < 10; i++ {
		rt.NewArray()
	}
	// the array, its name and the ten arrays of garbage
	if got := m.Live(); got != before+12 {
		t.Errorf("live = %d, want %d", got, before+12)
	}

	freed := rt.Collect()
	if freed != 10 {
		t.Errorf("freed = %d, want 10", freed)
	}
	if m.Object(kept) == nil {
		t.Fatal("rooted object was reclaimed")
	}
	if rt.ArrayValues(kept)[0] != FromSmallInt(1) {
		t.Error("rooted object lost its contents")
	}
}

func TestHandlesAreReused(t *testing.T) {
	rt, _ := newTestRuntime(t)
	garbage := rt.NewArray()
	rt.Collect()
	if rt.Memory.Object(garbage) != nil {
		t.Fatal("unreferenced object survived")
	}
	again := rt.NewArray()
	if again != garbage {
		t.Errorf("new object got handle %d, want reused %d", again.Handle(), garbage.Handle())
	}
}

func TestCollectRefusedInCriticalSection(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := rt.Memory
	m.GCBegin()
	obj := rt.NewArray()
	if freed := rt.Collect(); freed != 0 {
		t.Errorf("collection ran inside GCBegin, freed %d", freed)
	}
	if m.ShouldCollect() {
		t.Error("ShouldCollect is true inside a critical section")
	}
	m.GCEnd()
	if !m.ShouldCollect() {
		t.Error("refused collection was not left pending")
	}
	rt.Collect()
	if m.Object(obj) != nil {
		t.Error("object survived the pending collection")
	}
}

func TestPinKeepsObjectAlive(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := rt.NewString("pinned")
	rt.Memory.Pin(obj)
	rt.Memory.Pin(obj)
	rt.Memory.Unpin(obj)
	rt.Collect()
	if rt.Memory.Object(obj) == nil {
		t.Fatal("pinned object was reclaimed")
	}
	rt.Memory.Unpin(obj)
	rt.Collect()
	if rt.Memory.Object(obj) != nil {
		t.Error("unpinned object survived")
	}
}

func TestCollectorReentryIsFatal(t *testing.T) {
	m := NewObjectMemory(16, 0)
	m.inPass = true
	defer func() {
		err := recoverFatal(recover(), Nil)
		if !errors.Is(err, ErrCollectorReentered) {
			t.Errorf("err = %v, want ErrCollectorReentered", err)
		}
	}()
	m.Collect(nil)
}

func TestCopy(t *testing.T) {
	rt, _ := newTestRuntime(t)
	for _, v := range []Value{Nil, True, False, FromSmallInt(5)} {
		if got := rt.Memory.Copy(v); got != v {
			t.Errorf("Copy(%v) = %v, want the same value", v, got)
		}
	}

	orig := rt.NewArray(FromSmallInt(1), FromSmallInt(2))
	rt.Memory.Object(orig).Constant = true
	cp := rt.Memory.Copy(orig)
	if cp == orig {
		t.Fatal("copy is identical to the original")
	}
	rt.ArrayValues(cp)[0] = FromSmallInt(9)
	if rt.ArrayValues(orig)[0] != FromSmallInt(1) {
		t.Error("copy shares storage with the original")
	}
	if rt.Memory.Object(cp).Constant {
		t.Error("copy of a constant is constant")
	}
}

func TestResize(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := rt.NewArray(FromSmallInt(1), FromSmallInt(2), FromSmallInt(3))
	rt.Memory.Resize(a, 5)
	vals := rt.ArrayValues(a)
	if len(vals) != 5 || vals[2] != FromSmallInt(3) || vals[4] != Nil {
		t.Errorf("grown = %s", rt.PrintString(a))
	}
	rt.Memory.Resize(a, 1)
	if vals := rt.ArrayValues(a); len(vals) != 1 || vals[0] != FromSmallInt(1) {
		t.Errorf("truncated = %s", rt.PrintString(a))
	}
}

func TestObjectTableGrows(t *testing.T) {
	m := NewObjectMemory(16, 0)
	for i := 0; i < 100; i++ {
		m.Allocate(Nil, 0)
	}
	if m.Capacity() < 100+firstFreeHandle {
		t.Errorf("capacity = %d", m.Capacity())
	}
	if m.Live() != 100+firstFreeHandle {
		t.Errorf("live = %d", m.Live())
	}
}

func TestFinalizationIsDeferred(t *testing.T) {
	rt, _ := newTestRuntime(t)
	class := rt.NewClass("Resource", rt.Classes.Object, nil)
	rt.SetFinalization(class, true)

	obj := rt.Instantiate(class, 0)
	rt.Collect()
	if rt.Memory.Object(obj) == nil {
		t.Fatal("object needing finalization was reclaimed in the same pass")
	}
	queued := rt.Memory.TakeFinalizable()
	if len(queued) != 1 || queued[0] != obj {
		t.Fatalf("finalize queue = %v, want [%v]", queued, obj)
	}
	rt.Collect()
	if rt.Memory.Object(obj) != nil {
		t.Error("finalized object survived a second pass")
	}
}

func TestFinalizeRunsAtSafePoint(t *testing.T) {
	rt, _ := newTestRuntime(t)
	class := rt.NewClass("Resource", rt.Classes.Object, nil)
	rt.SetFinalization(class, true)

	// Resource>>finalize  Smalltalk at: #Finalized put: true
	a := NewAssembler(rt)
	a.Emit(OpPushGlobal, a.Selector("Smalltalk"))
	a.Emit(OpPushLiteral, a.Selector("Finalized"))
	a.Emit(OpPushConstant, ConstTrue)
	a.Send("at:put:", 2)
	a.Special(SpecialSelfReturn)
	rt.InstallMethod(class, a.Method(MethodSpec{Selector: "finalize"}))
	installPrimitive(t, rt, rt.Classes.Dictionary, "at:put:", "Dictionary_at_put")

	rt.Instantiate(class, 0)
	rt.Memory.RequestCollection()
	rt.Scheduler.safePoint()

	if v, _ := rt.Global("Finalized"); v != True {
		t.Errorf("Finalized = %s, want true", rt.PrintString(v))
	}
}
